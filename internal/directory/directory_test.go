package directory

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-0000": "+15550100000",
		"  5550100000 ":     "5550100000",
		"55+5":              "555",
		"":                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), in)
	}
}

func TestMemoryDirectory_Lookup(t *testing.T) {
	d := NewMemoryDirectory()
	d.AssignNumber("+1 555 0100", "u1")
	d.AddContact(Contact{ID: "c1", UserID: "u1", Name: "Ada", Number: "+1-555-0199"})
	ctx := context.Background()

	uid, ok, err := d.UserByNumber(ctx, "+15550100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", uid)

	c, ok, err := d.ContactByNumber(ctx, "u1", "+15550199")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ada", c.Name)

	_, ok, _ = d.ContactByNumber(ctx, "u2", "+15550199")
	require.False(t, ok)
}

func TestPostgresDirectory_UserByNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d := NewPostgresDirectory(db)
	q := regexp.QuoteMeta(`SELECT user_id FROM user_numbers WHERE number = $1`)

	mock.ExpectQuery(q).WithArgs("+15550100").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	uid, ok, err := d.UserByNumber(context.Background(), "+1 555 0100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", uid)

	mock.ExpectQuery(q).WithArgs("+15550111").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	_, ok, err = d.UserByNumber(context.Background(), "+15550111")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectQuery(q).WithArgs("+15550122").WillReturnError(errors.New("conn reset"))
	_, _, err = d.UserByNumber(context.Background(), "+15550122")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_ContactByNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d := NewPostgresDirectory(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM contacts`)).WithArgs("u1", "+15550199").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "number"}).
			AddRow("c1", "u1", "Ada", "+15550199"))

	c, ok, err := d.ContactByNumber(context.Background(), "u1", "+15550199")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Contact{ID: "c1", UserID: "u1", Name: "Ada", Number: "+15550199"}, c)
	require.NoError(t, mock.ExpectationsWereMet())
}
