package repository

import (
	"SupportDesk/entity"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var openStatuses = bson.A{entity.StatusBot, entity.StatusHuman}

// CreateConversation assigns the next conversation id and stores conv.
func (m *MongoDB) CreateConversation(ctx context.Context, conv *entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)
	id, err := m.nextID(ctx, db, conversationsCollection)
	if err != nil {
		return err
	}
	conv.ID = id

	if _, err = db.Collection(conversationsCollection).InsertOne(ctx, conv); err != nil {
		return fmt.Errorf("mongodb insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with its customer and messages in
// (created_at, id) order, or nil when it does not exist.
func (m *MongoDB) GetConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)

	var conv entity.Conversation
	err = db.Collection(conversationsCollection).FindOne(ctx, bson.D{{"_id", id}}).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}

	conv.Customer = entity.CustomerRef{ID: conv.CustomerID}
	err = db.Collection(customersCollection).FindOne(ctx, bson.D{{"_id", conv.CustomerID}}).Decode(&conv.Customer)
	if err = m.findError(err); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{"created_at", 1}, {"_id", 1}})
	cursor, err := db.Collection(messagesCollection).Find(ctx, bson.D{{"conversation_id", id}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find messages: %w", err)
	}
	defer cursor.Close(ctx)

	conv.Messages = []entity.Message{}
	if err = cursor.All(ctx, &conv.Messages); err != nil {
		return nil, fmt.Errorf("mongodb decode messages: %w", err)
	}
	return &conv, nil
}

// OpenConversationFor returns the customer's conversation that has not
// ended, or nil.
func (m *MongoDB) OpenConversationFor(ctx context.Context, customerID int64) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{
		{"customer_id", customerID},
		{"status", bson.D{{"$in", openStatuses}}},
	}
	opts := options.FindOne().SetSort(bson.D{{"created_at", -1}})

	var conv entity.Conversation
	err = connection.Database(m.database).Collection(conversationsCollection).FindOne(ctx, filter, opts).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}
	return &conv, nil
}

// ListConversations returns summaries, most recently updated first.
func (m *MongoDB) ListConversations(ctx context.Context, status entity.Status, limit, offset int) ([]entity.ConversationSummary, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	match := bson.D{}
	if status != "" {
		match = bson.D{{"status", status}}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{"updated_at", -1}, {"_id", -1}}}},
		{{Key: "$skip", Value: int64(offset)}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$lookup", Value: bson.D{
			{"from", customersCollection},
			{"localField", "customer_id"},
			{"foreignField", "_id"},
			{"as", "customer"},
		}}},
		// latest message only
		{{Key: "$lookup", Value: bson.D{
			{"from", messagesCollection},
			{"let", bson.D{{"cid", "$_id"}}},
			{"pipeline", bson.A{
				bson.D{{"$match", bson.D{{"$expr", bson.D{{"$eq", bson.A{"$conversation_id", "$$cid"}}}}}}},
				bson.D{{"$sort", bson.D{{"created_at", -1}, {"_id", -1}}}},
				bson.D{{"$limit", 1}},
			}},
			{"as", "last"},
		}}},
		{{Key: "$project", Value: bson.D{
			{"_id", 1},
			{"customer_id", 1},
			{"status", 1},
			{"operator", 1},
			{"customer_phone", bson.D{{"$first", "$customer.phone_number"}}},
			{"last_message", bson.D{{"$first", "$last.content"}}},
			{"last_message_time", bson.D{{"$first", "$last.created_at"}}},
		}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodb aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := []entity.ConversationSummary{}
	if err = cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("mongodb decode conversation summaries: %w", err)
	}
	return summaries, nil
}

// UpdateStatus moves a conversation to status only if its current status is
// one of from. An empty operator leaves the stored operator unchanged. It
// reports whether the conversation matched.
func (m *MongoDB) UpdateStatus(ctx context.Context, id int64, from []entity.Status, to entity.Status, operator string, at time.Time) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	filter := bson.D{
		{"_id", id},
		{"status", bson.D{{"$in", from}}},
	}
	set := bson.D{{"status", to}}
	if operator != "" {
		set = append(set, bson.E{Key: "operator", Value: operator})
	}
	update := bson.D{
		{"$set", set},
		{"$max", bson.D{{"updated_at", at}}},
	}

	result, err := connection.Database(m.database).Collection(conversationsCollection).
		UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongodb update conversation status: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// InsertMessage assigns the next message id, stores msg and touches the
// conversation's activity timestamps.
func (m *MongoDB) InsertMessage(ctx context.Context, msg *entity.Message) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)
	id, err := m.nextID(ctx, db, messagesCollection)
	if err != nil {
		return err
	}
	msg.ID = id

	if _, err = db.Collection(messagesCollection).InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("mongodb insert message: %w", err)
	}

	update := bson.D{{"$max", bson.D{
		{"updated_at", msg.CreatedAt},
		{"last_activity_at", msg.CreatedAt},
	}}}
	_, err = db.Collection(conversationsCollection).UpdateOne(ctx, bson.D{{"_id", msg.ConversationID}}, update)
	if err != nil {
		return fmt.Errorf("mongodb touch conversation: %w", err)
	}
	return nil
}

// EndIdle ends an open conversation only while it is still idle since
// before, so a message that arrived after the idle scan keeps it open.
func (m *MongoDB) EndIdle(ctx context.Context, id int64, before, at time.Time) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	filter := bson.D{
		{"_id", id},
		{"status", bson.D{{"$in", openStatuses}}},
		{"last_activity_at", bson.D{{"$lt", before}}},
	}
	update := bson.D{
		{"$set", bson.D{{"status", entity.StatusEnded}}},
		{"$max", bson.D{{"updated_at", at}}},
	}

	result, err := connection.Database(m.database).Collection(conversationsCollection).
		UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongodb end idle conversation: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// IdleConversations lists open conversations with no activity since before.
func (m *MongoDB) IdleConversations(ctx context.Context, before time.Time) ([]int64, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{
		{"status", bson.D{{"$in", openStatuses}}},
		{"last_activity_at", bson.D{{"$lt", before}}},
	}
	opts := options.Find().SetProjection(bson.D{{"_id", 1}})

	cursor, err := connection.Database(m.database).Collection(conversationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find idle conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err = cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode idle conversation: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}
