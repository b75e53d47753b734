package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// MongoDBStore implements Store using MongoDB.
//
// Amounts are stored as decimal strings: BSON has no uint64 and int64 would
// truncate the top half of the range. Event sequences come from a findAndModify
// counter so the log stays totally ordered across connections.
type MongoDBStore struct {
	client   *mongo.Client
	states   *mongo.Collection
	eventLog *mongo.Collection
	counters *mongo.Collection
}

type mongoPaymentState struct {
	Hash         string `bson:"_id"`
	HasCollected bool   `bson:"has_collected"`
	Capturable   string `bson:"capturable"`
	Refundable   string `bson:"refundable"`
}

type mongoEvent struct {
	Sequence    uint64    `bson:"sequence"`
	EventID     string    `bson:"event_id"`
	EventType   string    `bson:"event_type"`
	PaymentHash string    `bson:"payment_hash"`
	Operator    string    `bson:"operator"`
	Payer       string    `bson:"payer"`
	Receiver    string    `bson:"receiver"`
	Caller      string    `bson:"caller"`
	TokenStore  string    `bson:"token_store"`
	Amount      string    `bson:"amount"`
	Fee         string    `bson:"fee"`
	CreatedAt   time.Time `bson:"created_at"`
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(ctx context.Context, uri, database string, tables TableNames) (*MongoDBStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "escrow"
	}
	db := client.Database(database)

	store := &MongoDBStore{
		client:   client,
		states:   db.Collection(tables.PaymentStates),
		eventLog: db.Collection(tables.EventLog),
		counters: db.Collection(tables.EventLog + "_counters"),
	}

	indexModel := mongo.IndexModel{Keys: bson.D{{Key: "payment_hash", Value: 1}, {Key: "sequence", Value: 1}}}
	if _, err := store.eventLog.Indexes().CreateOne(ctx, indexModel); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create event index: %w", err)
	}

	return store, nil
}

func (s *MongoDBStore) GetPaymentState(ctx context.Context, hash common.Hash) (payments.State, error) {
	var doc mongoPaymentState
	err := s.states.FindOne(ctx, bson.M{"_id": hash.Hex()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return payments.State{}, ErrNotFound
	}
	if err != nil {
		return payments.State{}, fmt.Errorf("find payment state: %w", err)
	}

	state := payments.State{HasCollectedPayment: doc.HasCollected}
	if state.CapturableAmount, err = parseAmount(doc.Capturable); err != nil {
		return payments.State{}, err
	}
	if state.RefundableAmount, err = parseAmount(doc.Refundable); err != nil {
		return payments.State{}, err
	}
	return state, nil
}

func (s *MongoDBStore) PutPaymentState(ctx context.Context, hash common.Hash, state payments.State) error {
	doc := mongoPaymentState{
		Hash:         hash.Hex(),
		HasCollected: state.HasCollectedPayment,
		Capturable:   formatAmount(state.CapturableAmount),
		Refundable:   formatAmount(state.RefundableAmount),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.states.ReplaceOne(ctx, bson.M{"_id": hash.Hex()}, doc, opts); err != nil {
		return fmt.Errorf("upsert payment state: %w", err)
	}
	return nil
}

func (s *MongoDBStore) AppendEvent(ctx context.Context, event events.Event) (events.Event, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	seq, err := s.nextSequence(ctx)
	if err != nil {
		return events.Event{}, err
	}
	event.Sequence = seq

	doc := mongoEvent{
		Sequence:    event.Sequence,
		EventID:     event.ID,
		EventType:   string(event.Type),
		PaymentHash: event.PaymentHash.Hex(),
		Operator:    event.Operator.Hex(),
		Payer:       event.Payer.Hex(),
		Receiver:    event.Receiver.Hex(),
		Caller:      event.Caller.Hex(),
		TokenStore:  event.TokenStore.Hex(),
		Amount:      formatAmount(event.Amount),
		Fee:         formatAmount(event.Fee),
		CreatedAt:   event.Timestamp,
	}
	if _, err := s.eventLog.InsertOne(ctx, doc); err != nil {
		return events.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// nextSequence atomically increments and returns the event counter.
func (s *MongoDBStore) nextSequence(ctx context.Context) (uint64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "event_sequence"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next event sequence: %w", err)
	}
	return uint64(doc.Value), nil
}

func (s *MongoDBStore) ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	query := bson.M{}
	if filter.PaymentHash != (common.Hash{}) {
		query["payment_hash"] = filter.PaymentHash.Hex()
	}
	if filter.AfterSequence > 0 {
		query["sequence"] = bson.M{"$gt": filter.AfterSequence}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.eventLog.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []events.Event
	for cursor.Next(ctx) {
		var doc mongoEvent
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		ev := events.Event{
			Sequence:    doc.Sequence,
			ID:          doc.EventID,
			Type:        events.Type(doc.EventType),
			PaymentHash: common.HexToHash(doc.PaymentHash),
			Operator:    common.HexToAddress(doc.Operator),
			Payer:       common.HexToAddress(doc.Payer),
			Receiver:    common.HexToAddress(doc.Receiver),
			Caller:      common.HexToAddress(doc.Caller),
			TokenStore:  common.HexToAddress(doc.TokenStore),
			Timestamp:   doc.CreatedAt,
		}
		if ev.Amount, err = parseAmount(doc.Amount); err != nil {
			return nil, err
		}
		if ev.Fee, err = parseAmount(doc.Fee); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, cursor.Err()
}

func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
