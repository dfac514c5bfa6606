package postgres

import (
	"context"
	"testing"
	"time"

	"payment-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userColumns() []string {
	return []string{"id", "email", "credits", "active", "created_at", "updated_at"}
}

func userRow(u *domain.User) *pgxmock.Rows {
	return pgxmock.NewRows(userColumns()).AddRow(
		u.ID, u.Email, u.Credits, u.Active, u.CreatedAt, u.UpdatedAt,
	)
}

func newTestUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:        uuid.New(),
		Email:     "payer@example.com",
		Credits:   250,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUserRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs(u.ID).
		WillReturnRows(userRow(u))

	result, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, u.Email, result.Email)
	assert.Equal(t, int64(250), result.Credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(userColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	u := newTestUser()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM users WHERE id .+ FOR UPDATE").
		WithArgs(u.ID).
		WillReturnRows(userRow(u))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), dbTx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, u.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AdjustCredits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET credits = credits .+ RETURNING credits").
		WithArgs(int64(500), userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits"}).AddRow(int64(750)))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	balance, err := repo.AdjustCredits(context.Background(), dbTx, userID, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AdjustCredits_NegativeDelta(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET credits = credits .+ RETURNING credits").
		WithArgs(int64(-300), userID).
		WillReturnRows(pgxmock.NewRows([]string{"credits"}).AddRow(int64(0)))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	balance, err := repo.AdjustCredits(context.Background(), dbTx, userID, -300)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_AdjustCredits_UnknownUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET credits = credits .+ RETURNING credits").
		WithArgs(int64(100), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"credits"}))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = repo.AdjustCredits(context.Background(), dbTx, uuid.New(), 100)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SetActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUserRepo(mock)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET active").
		WithArgs(false, userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.SetActive(context.Background(), dbTx, userID, false)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
