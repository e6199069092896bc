package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campusiq-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var actorRowColumns = []string{"id", "username", "full_name", "email", "role", "department"}

func TestResolveActor(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows(actorRowColumns).
		AddRow("u-1", "asha", "Asha Rao", "asha@campusiq.local", "hod", "CSE")
	mock.ExpectQuery(regexp.QuoteMeta("FROM users u")).
		WithArgs("u-1").
		WillReturnRows(rows)

	actor, err := repo.ResolveActor(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleHOD, actor.Role)
	assert.Equal(t, models.DepartmentCSE, actor.Department)
	assert.Equal(t, "Asha Rao", actor.DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveActorNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users u")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(actorRowColumns))

	_, err := repo.ResolveActor(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFindByRoleAndDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows(actorRowColumns).
		AddRow("p-1", "anil", "", "", "principal", "CSE").
		AddRow("p-2", "bina", "Bina K", "bina@campusiq.local", "principal", "CSE")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY u.username, u.id")).
		WithArgs("principal", "CSE").
		WillReturnRows(rows)

	actors, err := repo.FindByRoleAndDepartment(context.Background(), models.RolePrincipal, models.DepartmentCSE)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, "p-1", actors[0].UserID)
	assert.Equal(t, "anil", actors[0].DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
