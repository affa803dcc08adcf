package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/domain"
)

func TestInsertDeliveryEvent_DuplicateIsNoop(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	msgID := "pm-msg-1"
	eventID := "pm-evt-1"
	at := time.Now().UTC()
	ev := &domain.DeliveryEvent{
		OutboxID:          101,
		ProviderMessageID: &msgID,
		RecordType:        "Delivery",
		EventAt:           at,
		PayloadJSON:       []byte(`{"RecordType":"Delivery"}`),
		ProviderEventID:   &eventID,
	}

	repo := NewEventRepo(db)

	mock.ExpectExec("ON CONFLICT \\(provider_event_id\\)").
		WithArgs(int64(101), "pm-msg-1", "Delivery", at, []byte(`{"RecordType":"Delivery"}`), eventID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.InsertDeliveryEvent(context.Background(), ev))

	// Replay: DO NOTHING swallows the duplicate without an error surfacing.
	mock.ExpectExec("ON CONFLICT \\(provider_event_id\\)").
		WithArgs(int64(101), "pm-msg-1", "Delivery", at, []byte(`{"RecordType":"Delivery"}`), eventID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.InsertDeliveryEvent(context.Background(), ev))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDeliveryEvent_NoProviderMessageID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Some provider events arrive without a message id; the column is
	// nullable and the insert passes NULL straight through.
	at := time.Now().UTC()
	ev := &domain.DeliveryEvent{
		OutboxID:   101,
		RecordType: "Bounce",
		EventAt:    at,
	}

	mock.ExpectExec("INSERT INTO delivery_events").
		WithArgs(int64(101), nil, "Bounce", at, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewEventRepo(db)
	require.NoError(t, repo.InsertDeliveryEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStatementSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO reminder_events").
		WithArgs(int64(7), int64(42), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := NewEventRepo(db)
	n, err := repo.LogStatementSent(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one audit row per open invoice")
}
