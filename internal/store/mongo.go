package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/omnidesk/support-router/internal/model"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	usersCollection         = "users"
)

// Mongo bundles the MongoDB-backed repositories.
type Mongo struct {
	Conversations *MongoConversationStore
	Messages      *MongoMessageStore
	Users         *MongoUserStore

	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo connects to MongoDB and prepares the repositories.
func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	return &Mongo{
		Conversations: &MongoConversationStore{col: db.Collection(conversationsCollection)},
		Messages:      &MongoMessageStore{col: db.Collection(messagesCollection)},
		Users:         &MongoUserStore{col: db.Collection(usersCollection)},
		client:        client,
		db:            db,
	}, nil
}

// EnsureIndexes creates the indexes the repositories rely on. The unique
// compound index on (channel, channel_message_id) is what makes ingestion
// idempotent at the store layer; it is partial so queued outbound messages
// without a native id yet are exempt.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel", Value: 1}, {Key: "channel_message_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"channel_message_id": bson.M{"$gt": ""}}),
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}

	_, err = m.db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation message index: %w", err)
	}

	_, err = m.db.Collection(conversationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel", Value: 1}, {Key: "customer_id", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}

	_, err = m.db.Collection(conversationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}

	return nil
}

// Ping reports whether MongoDB is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// storeErr maps driver failures to the generic storage error.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
}

// unclaimedFilter matches conversations with no owning agent. agent_id is
// omitted entirely on unclaimed documents, so match missing or empty.
func unclaimedFilter() bson.M {
	return bson.M{"$in": bson.A{nil, ""}}
}

// MongoConversationStore is the MongoDB ConversationStore.
type MongoConversationStore struct {
	col *mongo.Collection
}

func (s *MongoConversationStore) Insert(ctx context.Context, conv *model.Conversation) error {
	if _, err := s.col.InsertOne(ctx, conv); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *MongoConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) FindOpenByCustomer(ctx context.Context, channel, customerID string, now time.Time) (*model.Conversation, error) {
	filter := bson.M{
		"channel":     channel,
		"customer_id": customerID,
		"$or": bson.A{
			bson.M{"status": model.ConversationActive},
			bson.M{"status": model.ConversationPending, "expires_at": bson.M{"$gt": now}},
		},
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "start_time", Value: -1}})

	var conv model.Conversation
	err := s.col.FindOne(ctx, filter, opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) Claim(ctx context.Context, id, agentID string, at time.Time) (*model.Conversation, error) {
	filter := bson.M{
		"_id":      id,
		"status":   bson.M{"$ne": model.ConversationEnded},
		"agent_id": unclaimedFilter(),
	}
	update := bson.M{"$set": bson.M{
		"agent_id": agentID,
		"locked":   true,
		"status":   model.ConversationActive,
	}}

	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Distinguish a lost race from a missing conversation.
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == model.ConversationEnded {
			return nil, model.ErrNotFound
		}
		return nil, model.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) Release(ctx context.Context, id, agentID string) (*model.Conversation, error) {
	filter := bson.M{"_id": id, "agent_id": agentID}
	update := bson.M{
		"$unset": bson.M{"agent_id": ""},
		"$set":   bson.M{"locked": false},
	}

	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, model.ErrNotOwner
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) End(ctx context.Context, id, agentID string, elevated bool, at time.Time) (*model.Conversation, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$ne": model.ConversationEnded}}
	if !elevated {
		filter["agent_id"] = agentID
	}
	update := bson.M{
		"$unset": bson.M{"agent_id": ""},
		"$set": bson.M{
			"status":   model.ConversationEnded,
			"locked":   false,
			"end_time": at,
		},
	}

	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == model.ConversationEnded {
			return nil, model.ErrNotFound
		}
		return nil, model.ErrNotOwner
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) MarkRead(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"unread_count": 0}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) SetLastMessage(ctx context.Context, id string, msg *model.Message, at time.Time) (*model.Conversation, error) {
	update := bson.M{"$set": bson.M{
		"last_message":    msg,
		"last_message_at": at,
	}}
	if msg.Direction == model.DirectionInbound {
		update["$inc"] = bson.M{"unread_count": 1}
	}

	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

func (s *MongoConversationStore) List(ctx context.Context, filter ConversationFilter) ([]model.Conversation, int, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.AgentID != "" {
		query["agent_id"] = filter.AgentID
	}
	if filter.Channel != "" {
		query["channel"] = filter.Channel
	}

	total, err := s.col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, storeErr(err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer cursor.Close(ctx)

	var convs []model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, 0, storeErr(err)
	}

	return convs, int(total), nil
}

func (s *MongoConversationStore) FindExpired(ctx context.Context, now time.Time) ([]model.Conversation, error) {
	cursor, err := s.col.Find(ctx, bson.M{
		"status":     model.ConversationPending,
		"expires_at": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, storeErr(err)
	}
	defer cursor.Close(ctx)

	var convs []model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, storeErr(err)
	}
	return convs, nil
}

func (s *MongoConversationStore) EndExpired(ctx context.Context, id string, now time.Time) (*model.Conversation, error) {
	filter := bson.M{
		"_id":        id,
		"status":     model.ConversationPending,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$unset": bson.M{"agent_id": ""},
		"$set": bson.M{
			"status":   model.ConversationEnded,
			"locked":   false,
			"end_time": now,
		},
	}

	var conv model.Conversation
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &conv, nil
}

// MongoMessageStore is the MongoDB MessageStore.
type MongoMessageStore struct {
	col *mongo.Collection
}

func (s *MongoMessageStore) Insert(ctx context.Context, msg *model.Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return model.ErrDuplicateMessage
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *MongoMessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &msg, nil
}

func (s *MongoMessageStore) GetByChannelID(ctx context.Context, channel, channelMessageID string) (*model.Message, error) {
	var msg model.Message
	err := s.col.FindOne(ctx, bson.M{
		"channel":            channel,
		"channel_message_id": channelMessageID,
	}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &msg, nil
}

func (s *MongoMessageStore) Update(ctx context.Context, msg *model.Message) error {
	result, err := s.col.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if mongo.IsDuplicateKeyError(err) {
		return model.ErrDuplicateMessage
	}
	if err != nil {
		return storeErr(err)
	}
	if result.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *MongoMessageStore) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error) {
	query := bson.M{"conversation_id": conversationID}

	total, err := s.col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, storeErr(err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, 0, storeErr(err)
	}

	return msgs, int(total), nil
}

// MongoUserStore is the MongoDB UserStore.
type MongoUserStore struct {
	col *mongo.Collection
}

func (s *MongoUserStore) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &user, nil
}

func (s *MongoUserStore) Upsert(ctx context.Context, user *model.User) error {
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": user.ID}, user, options.Replace().SetUpsert(true))
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *MongoUserStore) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": online, "last_seen": at}},
		options.Update().SetUpsert(true))
	if err != nil {
		return storeErr(err)
	}
	return nil
}
