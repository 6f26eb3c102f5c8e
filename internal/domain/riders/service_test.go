package riders

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
)

// fakeTx is a no-op pgx.Tx for exercising the service without a database.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error        { t.rolledBack = true; return nil }
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	m.tx = &fakeTx{}
	return m.tx, nil
}

// MockRiderRepository is a mock implementation of RiderRepository
type MockRiderRepository struct {
	mock.Mock
}

func (m *MockRiderRepository) FindByID(ctx context.Context, id string) (*Rider, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Rider), args.Error(1)
}

func (m *MockRiderRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Rider, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Rider), args.Error(1)
}

func (m *MockRiderRepository) Insert(ctx context.Context, tx pgx.Tx, rider *Rider) (bool, error) {
	args := m.Called(ctx, tx, rider)
	return args.Bool(0), args.Error(1)
}

func (m *MockRiderRepository) UpdateLoyalty(ctx context.Context, tx pgx.Tx, id string, rideCount int, points int64, status loyalty.Status) error {
	args := m.Called(ctx, tx, id, rideCount, points, status)
	return args.Error(0)
}

// MockRideRepository is a mock implementation of RideRepository
type MockRideRepository struct {
	mock.Mock
}

func (m *MockRideRepository) FindByID(ctx context.Context, id string) (*Ride, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Ride), args.Error(1)
}

func (m *MockRideRepository) Insert(ctx context.Context, tx pgx.Tx, ride *Ride) (bool, error) {
	args := m.Called(ctx, tx, ride)
	return args.Bool(0), args.Error(1)
}

// MockFidelityRepository is a mock implementation of FidelityRepository
type MockFidelityRepository struct {
	mock.Mock
}

func (m *MockFidelityRepository) AddRedemption(ctx context.Context, tx pgx.Tx, riderID string, status loyalty.Status, pointsSpent int64) error {
	args := m.Called(ctx, tx, riderID, status, pointsSpent)
	return args.Error(0)
}

func (m *MockFidelityRepository) GetLedger(ctx context.Context, riderID string) (map[loyalty.Status]TierActivity, error) {
	args := m.Called(ctx, riderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[loyalty.Status]TierActivity), args.Error(1)
}

const (
	testRiderID = "5d1b5e6a5c3f2a0001a1b2c3"
	testRideID  = "6e2c6f7b6d4a3b0002b2c3d4"
)

func newTestService() (*Service, *fakeTxManager, *MockRiderRepository, *MockRideRepository, *MockFidelityRepository) {
	txm := &fakeTxManager{}
	riderRepo := new(MockRiderRepository)
	rideRepo := new(MockRideRepository)
	fidelityRepo := new(MockFidelityRepository)
	svc := NewService(txm, riderRepo, rideRepo, fidelityRepo)
	return svc, txm, riderRepo, rideRepo, fidelityRepo
}

func TestProcessSignup(t *testing.T) {
	t.Run("inserts a new rider with defaults", func(t *testing.T) {
		svc, txm, riderRepo, _, _ := newTestService()

		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(nil, nil)
		riderRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Rider) bool {
			return r.ID == testRiderID &&
				r.Name == "John Rider" &&
				r.RideCount == 0 &&
				r.Points == 0 &&
				r.Status == loyalty.StatusBronze
		})).Return(true, nil)

		err := svc.ProcessSignup(context.Background(), SignupEvent{ID: testRiderID, Name: "John Rider"})

		require.NoError(t, err)
		assert.True(t, txm.tx.committed)
		riderRepo.AssertExpectations(t)
	})

	t.Run("duplicate signup is a no-op success", func(t *testing.T) {
		svc, txm, riderRepo, _, _ := newTestService()

		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(NewRider(testRiderID, "John Rider"), nil)

		err := svc.ProcessSignup(context.Background(), SignupEvent{ID: testRiderID, Name: "John Rider"})

		require.NoError(t, err)
		assert.Nil(t, txm.tx, "no transaction should have been opened")
		riderRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessRideCreated(t *testing.T) {
	event := RideCreatedEvent{ID: testRideID, RiderID: testRiderID, Amount: 25}

	t.Run("records the ride and provisions an unknown rider", func(t *testing.T) {
		svc, txm, riderRepo, rideRepo, _ := newTestService()

		rideRepo.On("FindByID", mock.Anything, testRideID).Return(nil, nil)
		riderRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Rider) bool {
			return r.ID == testRiderID && r.Status == loyalty.StatusBronze
		})).Return(true, nil)
		rideRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Ride) bool {
			return r.ID == testRideID && r.RiderID == testRiderID && r.Amount == 25 && r.State == RideStateCreated
		})).Return(true, nil)

		err := svc.ProcessRideCreated(context.Background(), event)

		require.NoError(t, err)
		assert.True(t, txm.tx.committed)
		rideRepo.AssertExpectations(t)
		riderRepo.AssertExpectations(t)
	})

	t.Run("duplicate ride is a no-op success", func(t *testing.T) {
		svc, _, riderRepo, rideRepo, _ := newTestService()

		rideRepo.On("FindByID", mock.Anything, testRideID).Return(&Ride{ID: testRideID}, nil)

		err := svc.ProcessRideCreated(context.Background(), event)

		require.NoError(t, err)
		rideRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
		riderRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessRideCompleted(t *testing.T) {
	event := RideCompletedEvent{ID: testRideID, RiderID: testRiderID, Amount: 10}

	setup := func(rider *Rider) (*Service, *fakeTxManager, *MockRiderRepository, *MockRideRepository) {
		svc, txm, riderRepo, rideRepo, _ := newTestService()
		rideRepo.On("FindByID", mock.Anything, testRideID).Return(nil, nil)
		rideRepo.On("Insert", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Ride) bool {
			return r.ID == testRideID && r.State == RideStateCompleted
		})).Return(true, nil)
		riderRepo.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		riderRepo.On("FindByIDForUpdate", mock.Anything, mock.Anything, testRiderID).Return(rider, nil)
		return svc, txm, riderRepo, rideRepo
	}

	t.Run("first ride for a fresh rider", func(t *testing.T) {
		rider := &Rider{ID: testRiderID, RideCount: 0, Points: 0, Status: loyalty.StatusBronze}
		svc, txm, riderRepo, _ := setup(rider)

		riderRepo.On("UpdateLoyalty", mock.Anything, mock.Anything, testRiderID, 1, int64(10), loyalty.StatusBronze).Return(nil)

		err := svc.ProcessRideCompleted(context.Background(), event)

		require.NoError(t, err)
		assert.True(t, txm.tx.committed)
		riderRepo.AssertExpectations(t)
	})

	t.Run("ride crossing the silver threshold earns at the old tier", func(t *testing.T) {
		rider := &Rider{ID: testRiderID, RideCount: 19, Points: 50, Status: loyalty.StatusBronze}
		svc, txm, riderRepo, _ := setup(rider)

		riderRepo.On("UpdateLoyalty", mock.Anything, mock.Anything, testRiderID, 20, int64(60), loyalty.StatusSilver).Return(nil)

		err := svc.ProcessRideCompleted(context.Background(), event)

		require.NoError(t, err)
		assert.True(t, txm.tx.committed)
		riderRepo.AssertExpectations(t)
	})

	t.Run("redelivered completion is absorbed without mutation", func(t *testing.T) {
		svc, _, riderRepo, rideRepo, _ := newTestService()

		rideRepo.On("FindByID", mock.Anything, testRideID).Return(&Ride{ID: testRideID, State: RideStateCompleted}, nil)

		err := svc.ProcessRideCompleted(context.Background(), event)

		require.NoError(t, err)
		rideRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
		riderRepo.AssertNotCalled(t, "UpdateLoyalty", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent duplicate caught by the ride insert", func(t *testing.T) {
		svc, txm, riderRepo, rideRepo, _ := newTestService()

		rideRepo.On("FindByID", mock.Anything, testRideID).Return(nil, nil)
		rideRepo.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		err := svc.ProcessRideCompleted(context.Background(), event)

		require.NoError(t, err)
		assert.False(t, txm.tx.committed)
		assert.True(t, txm.tx.rolledBack)
		riderRepo.AssertNotCalled(t, "UpdateLoyalty", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("persistence failure surfaces as retryable", func(t *testing.T) {
		svc, _, _, rideRepo, _ := newTestService()

		bang := errors.New("connection reset")
		rideRepo.On("FindByID", mock.Anything, testRideID).Return(nil, bang)

		err := svc.ProcessRideCompleted(context.Background(), event)

		require.Error(t, err)
		assert.False(t, IsTerminal(err))
	})
}

func TestProcessRemovePoints(t *testing.T) {
	t.Run("redeems points and records the ledger entry", func(t *testing.T) {
		svc, txm, riderRepo, _, fidelityRepo := newTestService()

		rider := &Rider{ID: testRiderID, RideCount: 30, Points: 50, Status: loyalty.StatusSilver}
		riderRepo.On("FindByIDForUpdate", mock.Anything, mock.Anything, testRiderID).Return(rider, nil)
		riderRepo.On("UpdateLoyalty", mock.Anything, mock.Anything, testRiderID, 30, int64(20), loyalty.StatusSilver).Return(nil)
		fidelityRepo.On("AddRedemption", mock.Anything, mock.Anything, testRiderID, loyalty.StatusSilver, int64(30)).Return(nil)

		err := svc.ProcessRemovePoints(context.Background(), RemovePointsEvent{ID: testRiderID, PointsSpent: 30})

		require.NoError(t, err)
		assert.True(t, txm.tx.committed)
		riderRepo.AssertExpectations(t)
		fidelityRepo.AssertExpectations(t)
	})

	t.Run("rejects redemption beyond the balance without mutation", func(t *testing.T) {
		svc, txm, riderRepo, _, fidelityRepo := newTestService()

		rider := &Rider{ID: testRiderID, RideCount: 30, Points: 50, Status: loyalty.StatusSilver}
		riderRepo.On("FindByIDForUpdate", mock.Anything, mock.Anything, testRiderID).Return(rider, nil)

		err := svc.ProcessRemovePoints(context.Background(), RemovePointsEvent{ID: testRiderID, PointsSpent: 1000})

		assert.ErrorIs(t, err, ErrInsufficientPoints)
		assert.True(t, IsTerminal(err))
		assert.False(t, txm.tx.committed)
		riderRepo.AssertNotCalled(t, "UpdateLoyalty", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		fidelityRepo.AssertNotCalled(t, "AddRedemption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown rider is a terminal failure", func(t *testing.T) {
		svc, _, riderRepo, _, _ := newTestService()

		riderRepo.On("FindByIDForUpdate", mock.Anything, mock.Anything, testRiderID).Return(nil, nil)

		err := svc.ProcessRemovePoints(context.Background(), RemovePointsEvent{ID: testRiderID, PointsSpent: 10})

		assert.ErrorIs(t, err, ErrRiderNotFound)
		assert.True(t, IsTerminal(err))
	})
}

func TestGetLoyaltyInfo(t *testing.T) {
	t.Run("projects the rider aggregate", func(t *testing.T) {
		svc, _, riderRepo, _, _ := newTestService()

		rider := &Rider{ID: testRiderID, RideCount: 32, Points: 120, Status: loyalty.StatusSilver}
		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(rider, nil)

		info, err := svc.GetLoyaltyInfo(context.Background(), testRiderID)

		require.NoError(t, err)
		assert.Equal(t, &LoyaltyInfo{
			Status:            loyalty.StatusSilver,
			Points:            120,
			RidesToNextStatus: 18,
		}, info)
	})

	t.Run("unknown rider", func(t *testing.T) {
		svc, _, riderRepo, _, _ := newTestService()

		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(nil, nil)

		_, err := svc.GetLoyaltyInfo(context.Background(), testRiderID)

		assert.ErrorIs(t, err, ErrRiderNotFound)
	})
}

func TestGetFidelityStatus(t *testing.T) {
	t.Run("returns only tiers with activity", func(t *testing.T) {
		svc, _, riderRepo, _, fidelityRepo := newTestService()

		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(&Rider{ID: testRiderID}, nil)
		ledger := map[loyalty.Status]TierActivity{
			loyalty.StatusSilver: {PointsSpent: 30, RidesCount: 1},
		}
		fidelityRepo.On("GetLedger", mock.Anything, testRiderID).Return(ledger, nil)

		got, err := svc.GetFidelityStatus(context.Background(), testRiderID)

		require.NoError(t, err)
		assert.Equal(t, ledger, got)
	})

	t.Run("unknown rider", func(t *testing.T) {
		svc, _, riderRepo, _, _ := newTestService()

		riderRepo.On("FindByID", mock.Anything, testRiderID).Return(nil, nil)

		_, err := svc.GetFidelityStatus(context.Background(), testRiderID)

		assert.ErrorIs(t, err, ErrRiderNotFound)
	})
}
