package users

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/R3E-Network/user_service/internal/database"
	"github.com/R3E-Network/user_service/internal/errors"
)

// CollectionProvider hands out collections of the connected database.
type CollectionProvider interface {
	Collection(name string) (*mongo.Collection, error)
}

// MongoRepository stores users in the "users" collection.
type MongoRepository struct {
	store CollectionProvider
	now   func() time.Time
}

// NewMongoRepository creates a repository over store.
func NewMongoRepository(store CollectionProvider) *MongoRepository {
	return &MongoRepository{store: store, now: time.Now}
}

// EnsureIndexes creates the unique email index. It is registered with the
// connection manager as an index initializer.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	coll, err := r.store.Collection(CollectionName)
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, u *User) error {
	coll, err := r.collection()
	if err != nil {
		return err
	}
	ts := r.now().UTC()
	u.ID = bson.NewObjectID()
	u.CreatedAt = ts
	u.UpdatedAt = ts

	if _, err := coll.InsertOne(ctx, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	coll, err := r.collection()
	if err != nil {
		return nil, err
	}

	var u User
	if err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *MongoRepository) List(ctx context.Context, opts ListOptions) ([]*User, int64, error) {
	coll, err := r.collection()
	if err != nil {
		return nil, 0, err
	}

	find := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(opts.Skip).
		SetLimit(opts.Limit)
	cur, err := coll.Find(ctx, bson.M{}, find)
	if err != nil {
		return nil, 0, fmt.Errorf("find users: %w", err)
	}
	users := make([]*User, 0)
	if err := cur.All(ctx, &users); err != nil {
		return nil, 0, fmt.Errorf("decode users: %w", err)
	}

	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

func (r *MongoRepository) Update(ctx context.Context, id string, changes Changes) (*User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	coll, err := r.collection()
	if err != nil {
		return nil, err
	}

	set := bson.M{"updated_at": r.now().UTC()}
	if changes.Name != nil {
		set["name"] = *changes.Name
	}
	if changes.Email != nil {
		set["email"] = *changes.Email
	}
	if changes.Role != nil {
		set["role"] = *changes.Role
	}

	var u User
	err = coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	coll, err := r.collection()
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("User not found")
	}
	return nil
}

func (r *MongoRepository) collection() (*mongo.Collection, error) {
	coll, err := r.store.Collection(CollectionName)
	if stderrors.Is(err, database.ErrNotConnected) {
		return nil, errors.ServiceUnavailable("Database unavailable", err)
	}
	return coll, err
}

func parseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, errors.FromInvalidIDError("id", err)
	}
	return oid, nil
}

func notFound(err error) error {
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return errors.New(errors.CodeNotFound, "User not found", err)
	}
	return err
}
