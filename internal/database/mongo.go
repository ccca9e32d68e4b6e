package repository

import (
	"SupportDesk/entity"
	"SupportDesk/internal/config"
	"SupportDesk/internal/lib/sl"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	customersCollection     = "customers"
	countersCollection      = "counters"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
	log           *slog.Logger
}

func NewMongoClient(conf *config.Config, logger *slog.Logger) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	return newMongo(clientOptions, conf.Mongo.Database, logger), nil
}

func newMongo(clientOptions *options.ClientOptions, database string, logger *slog.Logger) *MongoDB {
	return &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      database,
		log:           logger.With(sl.Module("mongodb")),
	}
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

func (m *MongoDB) findError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return fmt.Errorf("mongodb find error: %w", err)
}

// nextID returns the next value of the named int64 sequence.
func (m *MongoDB) nextID(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	filter := bson.D{{"_id", name}}
	update := bson.D{{"$inc", bson.D{{"seq", int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := db.Collection(countersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongodb next %s id: %w", name, err)
	}
	return counter.Seq, nil
}

// UpsertCustomer returns the customer with the given phone number, creating
// it on first contact. A known customer's name is updated when a new one is given.
func (m *MongoDB) UpsertCustomer(ctx context.Context, phone, name string) (*entity.CustomerRef, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)
	collection := db.Collection(customersCollection)

	var customer entity.CustomerRef
	err = collection.FindOne(ctx, bson.D{{"phone_number", phone}}).Decode(&customer)
	if err == nil {
		if name != "" && name != customer.Name {
			_, err = collection.UpdateOne(ctx, bson.D{{"_id", customer.ID}}, bson.D{{"$set", bson.D{{"name", name}}}})
			if err != nil {
				return nil, fmt.Errorf("mongodb update customer: %w", err)
			}
			customer.Name = name
		}
		return &customer, nil
	}
	if err = m.findError(err); err != nil {
		return nil, err
	}

	id, err := m.nextID(ctx, db, customersCollection)
	if err != nil {
		return nil, err
	}
	customer = entity.CustomerRef{ID: id, PhoneNumber: phone, Name: name}
	if _, err = collection.InsertOne(ctx, customer); err != nil {
		return nil, fmt.Errorf("mongodb insert customer: %w", err)
	}
	return &customer, nil
}
