package identity

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository persists the principal restored on the next startup. The store
// treats a restored principal as lower trust than a live one (it may be
// stale), but it keeps the user signed in across restarts.
type Repository interface {
	Save(ctx context.Context, p *Principal) error
	Load(ctx context.Context) (*Principal, error)
	Clear(ctx context.Context) error
}

// The service is single-session (one logical user per process), so the
// persisted principal lives under one well-known key/document.
const persistedDocID = "current"

// MongoRepository implements Repository using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

type persistedDoc struct {
	ID        string    `bson:"_id"`
	Principal Principal `bson:"principal"`
}

func (r *MongoRepository) Save(ctx context.Context, p *Principal) error {
	doc := persistedDoc{ID: persistedDocID, Principal: *p}
	opts := options.Replace().SetUpsert(true)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": persistedDocID}, doc, opts)
	return err
}

func (r *MongoRepository) Load(ctx context.Context) (*Principal, error) {
	var doc persistedDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": persistedDocID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &doc.Principal, nil
}

func (r *MongoRepository) Clear(ctx context.Context) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": persistedDocID})
	return err
}
