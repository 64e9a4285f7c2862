package event

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/db"
	"checkout-dispatch/internal/message"
	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/signature"
	"checkout-dispatch/internal/testhelpers"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ProcessorTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	store       *db.Store
	sut         *Processor
	ctx         context.Context

	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	target *httptest.Server
}

func (s *ProcessorTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping postgres integration suite in short mode")
	}
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}
	s.pool = pool
	s.store = db.NewStore(pool)

	s.target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.sigs = append(s.sigs, r.Header.Get(callback.DefaultSignatureHeader))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	sender := callback.NewSender(time.Second, 0, slog.Default())
	deliverer := callback.NewDeliverer(s.store, sender, callback.RetryPolicy{}, callback.Headers{}, slog.Default())
	dispatcher := callback.NewDispatcher(s.store, deliverer, nil, 4, slog.Default())
	s.sut = NewProcessor(dispatcher, slog.Default())
}

func (s *ProcessorTestSuite) TearDownSuite() {
	if s.target != nil {
		s.target.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			log.Fatalf("error terminating postgres container: %s", err)
		}
	}
}

func (s *ProcessorTestSuite) SetupTest() {
	for _, table := range []string{"webhook_deliveries", "webhook_subscriptions", "pix_charges", "orders", "products"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
	s.mu.Lock()
	s.bodies, s.sigs = nil, nil
	s.mu.Unlock()
}

func (s *ProcessorTestSuite) TestProcess_Success() {
	t := s.T()

	require.NoError(t, s.store.CreateOrder(s.ctx, &model.Order{
		ID:            "o1",
		VendorID:      "vendor-1",
		ProductID:     "product-1",
		Customer:      model.Customer{Name: "Maria Silva", Email: "maria@example.com"},
		AmountCents:   1000,
		Currency:      "BRL",
		PaymentMethod: model.MethodPix,
		Status:        model.StatusPaid,
		CreatedAt:     time.Now(),
	}))
	require.NoError(t, s.store.CreateSubscription(s.ctx, &model.Subscription{
		ID:       uuid.New(),
		VendorID: "vendor-1",
		URL:      s.target.URL,
		Secret:   "secret",
		Events:   []model.EventType{model.EventPurchaseApproved},
		Active:   true,
	}))

	err := s.sut.Process(s.ctx, message.NewOrderEvent("o1", model.EventPurchaseApproved, nil))
	assert.NoError(t, err)

	deliveries, err := s.store.ListDeliveriesByOrder(s.ctx, "o1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliverySuccess, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	assert.WithinDuration(t, time.Now(), *deliveries[0].LastAttemptAt, 5*time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.bodies, 1)
	assert.JSONEq(t, string(deliveries[0].Payload), string(s.bodies[0]))
	assert.Equal(t, signature.Sign("secret", s.bodies[0]), s.sigs[0])
}

func (s *ProcessorTestSuite) TestProcess_UnknownOrderDropped() {
	err := s.sut.Process(s.ctx, message.NewOrderEvent("missing", model.EventPurchaseApproved, nil))
	s.NoError(err)
}

func TestProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessorTestSuite))
}

type fakeDispatcher struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeDispatcher) Dispatch(_ context.Context, orderID string, event model.EventType, _ map[string]any) (*callback.DeliverySummary, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return &callback.DeliverySummary{OrderID: orderID, Event: event}, nil
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "success"},
		{name: "not found is dropped", err: errors.Wrap(apperr.ErrNotFound, "order o1")},
		{name: "validation is dropped", err: errors.Wrap(apperr.ErrValidation, "event")},
		{name: "store failure is returned", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sut := NewProcessor(&fakeDispatcher{err: tt.err}, slog.Default())

			err := sut.Process(context.Background(), message.NewOrderEvent("o1", model.EventPurchaseApproved, nil))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalPublisher(t *testing.T) {
	dispatcher := &fakeDispatcher{delay: 10 * time.Millisecond}
	publisher := NewLocalPublisher(NewProcessor(dispatcher, slog.Default()), 2, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	for range 5 {
		require.NoError(t, publisher.Publish(ctx, message.NewOrderEvent("o1", model.EventPixGenerated, nil)))
	}
	cancel()
	publisher.Wait()

	assert.Equal(t, int32(5), dispatcher.calls.Load())
}

func TestLocalPublisher_BusyWorkersHonourContext(t *testing.T) {
	dispatcher := &fakeDispatcher{delay: 200 * time.Millisecond}
	publisher := NewLocalPublisher(NewProcessor(dispatcher, slog.Default()), 1, slog.Default())
	defer publisher.Wait()

	require.NoError(t, publisher.Publish(context.Background(), message.NewOrderEvent("o1", model.EventPixGenerated, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := publisher.Publish(ctx, message.NewOrderEvent("o2", model.EventPixGenerated, nil))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
