package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PageParams holds pagination configuration
type PageParams struct {
	Page     int64  `json:"page"`     // 1-based
	PageSize int64  `json:"pageSize"` // items per page
	SortBy   string `json:"sortBy"`
	SortDesc bool   `json:"sortDesc"`
}

// Page holds one page of query results. HasMore is size-based: it is true
// iff the page came back full, so it can over-report by one page when the
// total is an exact multiple of the page size. Accepted behavior.
type Page[T any] struct {
	Data     []T   `json:"data"`
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
	HasMore  bool  `json:"hasMore"`
}

// Repository provides generic CRUD operations over a MongoDB collection
type Repository[T any] struct {
	collection *mongo.Collection
}

// NewRepository creates a new generic repository
func NewRepository[T any](db *mongo.Database, collectionName string) *Repository[T] {
	return &Repository[T]{
		collection: db.Collection(collectionName),
	}
}

func OpenConnection(uri string, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	return client.Database(database), nil
}

// EnsureIndexes creates the given indexes on the collection, ignoring ones
// that already exist.
func (r *Repository[T]) EnsureIndexes(ctx context.Context, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create inserts a new document and returns its hex ObjectID.
func (r *Repository[T]) Create(ctx context.Context, document T) (string, error) {
	result, err := r.collection.InsertOne(ctx, document)
	if err != nil {
		return "", err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return "", nil
}

// FindByID finds a document by its hex ObjectID
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var result T
	if err := r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindOne finds a single document matching the filter
func (r *Repository[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	var result T
	if err := r.collection.FindOne(ctx, filter).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindAll finds all documents matching the filter, optionally sorted
func (r *Repository[T]) FindAll(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []T
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// FindPage finds documents with skip/limit pagination. HasMore is inferred
// from the returned slice length, not from a count query.
func (r *Repository[T]) FindPage(ctx context.Context, filter bson.M, params PageParams) (*Page[T], error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	findOptions := options.Find().
		SetSkip((params.Page - 1) * params.PageSize).
		SetLimit(params.PageSize)

	if params.SortBy != "" {
		sortOrder := 1
		if params.SortDesc {
			sortOrder = -1
		}
		findOptions.SetSort(bson.D{{Key: params.SortBy, Value: sortOrder}})
	}

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := make([]T, 0, params.PageSize)
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	return &Page[T]{
		Data:     results,
		Page:     params.Page,
		PageSize: params.PageSize,
		HasMore:  int64(len(results)) == params.PageSize,
	}, nil
}

// UpdateOne applies a raw update document (caller supplies $set/$inc/$push)
// to the first document matching the filter.
func (r *Repository[T]) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (*mongo.UpdateResult, error) {
	return r.collection.UpdateOne(ctx, filter, update)
}

// UpdateByID applies a raw update document to a document by hex ObjectID
func (r *Repository[T]) UpdateByID(ctx context.Context, id string, update bson.M) (*mongo.UpdateResult, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	return r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
}

// FindOneAndUpdate applies a raw update and returns the post-update document.
func (r *Repository[T]) FindOneAndUpdate(ctx context.Context, filter bson.M, update bson.M) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var result T
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindOneAndUpdateWithPipeline applies an aggregation-pipeline update in one
// round trip and returns the post-update document. Used where a read-modify
// -write of an array field must be atomic.
func (r *Repository[T]) FindOneAndUpdateWithPipeline(ctx context.Context, filter bson.M, pipeline mongo.Pipeline) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var result T
	if err := r.collection.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
