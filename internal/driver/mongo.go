package driver

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/pool"
)

var mongoDangerous = []dangerPattern{
	{regexp.MustCompile(`\.dropDatabase\s*\(`), "statement drops a database"},
	{regexp.MustCompile(`\.drop\s*\(`), "statement drops a collection"},
	{regexp.MustCompile(`\.(deleteMany|remove)\s*\(`), "statement deletes documents in bulk"},
	{regexp.MustCompile(`\.updateMany\s*\(`), "statement updates documents in bulk"},
	{regexp.MustCompile(`\$where`), "statement uses a free-form JavaScript predicate"},
}

// mongoMethods is the allow-list mapping shell method names to execution.
// Anything not listed fails with a descriptive validation error instead of
// being silently ignored.
var mongoMethods = map[string]bool{
	"find": true, "findOne": true,
	"insertOne": true, "insertMany": true,
	"updateOne": true, "updateMany": true,
	"deleteOne": true, "deleteMany": true,
	"countDocuments": true, "estimatedDocumentCount": true,
	"distinct": true, "aggregate": true,
	"findOneAndUpdate": true, "findOneAndDelete": true,
	"drop": true, "getIndexes": true, "createIndex": true,
}

// mongoAdminCommands maps the db.<command>() form to server commands.
var mongoAdminCommands = map[string]bson.D{
	"dropDatabase": {{Key: "dropDatabase", Value: 1}},
	"ping":         {{Key: "ping", Value: 1}},
	"stats":        {{Key: "dbStats", Value: 1}},
	"serverStatus": {{Key: "serverStatus", Value: 1}},
}

// MongoDriver executes shell-style statements against document-store
// instances through the shared client cache.
type MongoDriver struct {
	pool *pool.Manager
}

// NewMongoDriver creates a mongo driver backed by the shared pool.
func NewMongoDriver(p *pool.Manager) *MongoDriver {
	return &MongoDriver{pool: p}
}

// Backend returns the engine this driver serves.
func (d *MongoDriver) Backend() config.Backend {
	return config.BackendMongo
}

// Validate checks content before any side effect.
func (d *MongoDriver) Validate(content string) (*ValidationResult, error) {
	return validateContent(content, mongoDangerous)
}

// Execute parses and runs one statement, capping returned documents.
func (d *MongoDriver) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := checkTarget(req, config.BackendMongo); err != nil {
		return nil, err
	}

	stmt, err := ParseMongoStatement(req.Content)
	if err != nil {
		return nil, err
	}

	client, err := d.pool.AcquireMongo(ctx, req.Instance)
	if err != nil {
		return nil, err
	}
	db := client.Database(req.Database)

	start := time.Now()
	var result *Result

	if stmt.Collection == "" {
		result, err = d.runAdminCommand(ctx, db, stmt)
	} else {
		result, err = d.runCollectionMethod(ctx, db, stmt)
	}
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	log.Debug().
		Str("instance", req.Instance.ID).
		Str("database", req.Database).
		Str("collection", stmt.Collection).
		Str("method", stmt.Method).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Executed mongodb statement")

	return result, nil
}

func (d *MongoDriver) runAdminCommand(ctx context.Context, db *mongo.Database, stmt *MongoStatement) (*Result, error) {
	cmd, ok := mongoAdminCommands[stmt.Method]
	if !ok {
		return nil, errdefs.Validation("unsupported administrative command: %s", stmt.Method)
	}
	if len(stmt.Args) != 0 {
		return nil, errdefs.Validation("%s takes no arguments", stmt.Method)
	}

	var doc bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&doc); err != nil {
		return nil, errdefs.QueryExecution(err, "command %s failed", stmt.Method)
	}
	return &Result{Rows: []map[string]any{doc}, Message: fmt.Sprintf("%s ok", stmt.Method)}, nil
}

func (d *MongoDriver) runCollectionMethod(ctx context.Context, db *mongo.Database, stmt *MongoStatement) (*Result, error) {
	if !mongoMethods[stmt.Method] {
		return nil, errdefs.Validation("unsupported method: %s (not on the allow-list)", stmt.Method)
	}
	coll := db.Collection(stmt.Collection)

	switch stmt.Method {
	case "find":
		filter, err := argDocument(stmt, 0, true)
		if err != nil {
			return nil, err
		}
		// A requested .limit(n) applies only below the result cap; anything
		// larger still runs into the cap and gets the truncation flag.
		limit := int64(MaxResultRows + 1)
		if stmt.Limit > 0 && stmt.Limit < limit {
			limit = stmt.Limit
		}
		opts := mongooptions.Find().SetLimit(limit)
		if len(stmt.Args) > 1 {
			projection, err := argDocument(stmt, 1, true)
			if err != nil {
				return nil, err
			}
			opts.SetProjection(projection)
		}
		cursor, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "find failed")
		}
		return collectDocuments(ctx, cursor)

	case "findOne":
		filter, err := argDocument(stmt, 0, true)
		if err != nil {
			return nil, err
		}
		var doc bson.M
		err = coll.FindOne(ctx, filter).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return &Result{Message: "no matching document"}, nil
		}
		if err != nil {
			return nil, errdefs.QueryExecution(err, "findOne failed")
		}
		return &Result{Rows: []map[string]any{doc}, RowsAffected: 1}, nil

	case "insertOne":
		doc, err := argDocument(stmt, 0, false)
		if err != nil {
			return nil, err
		}
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "insertOne failed")
		}
		return &Result{RowsAffected: 1, Message: fmt.Sprintf("inserted id %v", res.InsertedID)}, nil

	case "insertMany":
		docs, err := argArray(stmt, 0)
		if err != nil {
			return nil, err
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "insertMany failed")
		}
		return &Result{RowsAffected: int64(len(res.InsertedIDs)), Message: fmt.Sprintf("inserted %d documents", len(res.InsertedIDs))}, nil

	case "updateOne", "updateMany":
		filter, err := argDocument(stmt, 0, false)
		if err != nil {
			return nil, err
		}
		update, err := argDocument(stmt, 1, false)
		if err != nil {
			return nil, err
		}
		var res *mongo.UpdateResult
		if stmt.Method == "updateOne" {
			res, err = coll.UpdateOne(ctx, filter, update)
		} else {
			res, err = coll.UpdateMany(ctx, filter, update)
		}
		if err != nil {
			return nil, errdefs.QueryExecution(err, "%s failed", stmt.Method)
		}
		return &Result{RowsAffected: res.ModifiedCount, Message: fmt.Sprintf("matched %d, modified %d", res.MatchedCount, res.ModifiedCount)}, nil

	case "deleteOne", "deleteMany":
		filter, err := argDocument(stmt, 0, true)
		if err != nil {
			return nil, err
		}
		var res *mongo.DeleteResult
		if stmt.Method == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filter)
		} else {
			res, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return nil, errdefs.QueryExecution(err, "%s failed", stmt.Method)
		}
		return &Result{RowsAffected: res.DeletedCount, Message: fmt.Sprintf("deleted %d documents", res.DeletedCount)}, nil

	case "countDocuments":
		filter, err := argDocument(stmt, 0, true)
		if err != nil {
			return nil, err
		}
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "countDocuments failed")
		}
		return &Result{Rows: []map[string]any{{"count": n}}, RowsAffected: n}, nil

	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "estimatedDocumentCount failed")
		}
		return &Result{Rows: []map[string]any{{"count": n}}, RowsAffected: n}, nil

	case "distinct":
		if len(stmt.Args) == 0 {
			return nil, errdefs.Validation("distinct requires a field name argument")
		}
		var field string
		if err := bson.UnmarshalExtJSON([]byte(stmt.Args[0]), false, &field); err != nil {
			return nil, errdefs.Validation("distinct field must be a JSON string: %v", err)
		}
		filter, err := argDocument(stmt, 1, true)
		if err != nil {
			return nil, err
		}
		values, err := coll.Distinct(ctx, field, filter)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "distinct failed")
		}
		return &Result{Rows: []map[string]any{{"values": values}}, RowsAffected: int64(len(values))}, nil

	case "aggregate":
		pipeline, err := argArray(stmt, 0)
		if err != nil {
			return nil, err
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "aggregate failed")
		}
		return collectDocuments(ctx, cursor)

	case "findOneAndUpdate":
		filter, err := argDocument(stmt, 0, false)
		if err != nil {
			return nil, err
		}
		update, err := argDocument(stmt, 1, false)
		if err != nil {
			return nil, err
		}
		var doc bson.M
		err = coll.FindOneAndUpdate(ctx, filter, update).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return &Result{Message: "no matching document"}, nil
		}
		if err != nil {
			return nil, errdefs.QueryExecution(err, "findOneAndUpdate failed")
		}
		return &Result{Rows: []map[string]any{doc}, RowsAffected: 1}, nil

	case "findOneAndDelete":
		filter, err := argDocument(stmt, 0, false)
		if err != nil {
			return nil, err
		}
		var doc bson.M
		err = coll.FindOneAndDelete(ctx, filter).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return &Result{Message: "no matching document"}, nil
		}
		if err != nil {
			return nil, errdefs.QueryExecution(err, "findOneAndDelete failed")
		}
		return &Result{Rows: []map[string]any{doc}, RowsAffected: 1}, nil

	case "drop":
		if err := coll.Drop(ctx); err != nil {
			return nil, errdefs.QueryExecution(err, "drop failed")
		}
		return &Result{Message: fmt.Sprintf("dropped collection %s", stmt.Collection)}, nil

	case "getIndexes":
		cursor, err := coll.Indexes().List(ctx)
		if err != nil {
			return nil, errdefs.QueryExecution(err, "getIndexes failed")
		}
		return collectDocuments(ctx, cursor)

	case "createIndex":
		keys, err := argDocument(stmt, 0, false)
		if err != nil {
			return nil, err
		}
		name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
		if err != nil {
			return nil, errdefs.QueryExecution(err, "createIndex failed")
		}
		return &Result{Message: fmt.Sprintf("created index %s", name)}, nil
	}

	return nil, errdefs.Validation("unsupported method: %s", stmt.Method)
}

// TestConnection opens a throwaway client and pings the server.
func (d *MongoDriver) TestConnection(ctx context.Context, inst *config.Instance, database string) (*PingResult, error) {
	uri, err := pool.MongoURI(inst)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return &PingResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err)}, nil
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return &PingResult{Success: false, Message: fmt.Sprintf("ping failed: %v", err)}, nil
	}
	return &PingResult{Success: true, Message: fmt.Sprintf("connected to %s/%s", inst.ID, database)}, nil
}

// argDocument parses the i'th argument as a JSON document. When optional is
// true a missing argument becomes the empty document.
func argDocument(stmt *MongoStatement, i int, optional bool) (bson.D, error) {
	if i >= len(stmt.Args) {
		if optional {
			return bson.D{}, nil
		}
		return nil, errdefs.Validation("%s requires at least %d arguments", stmt.Method, i+1)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(stmt.Args[i]), false, &doc); err != nil {
		return nil, errdefs.Validation("argument %d of %s is not valid JSON: %v", i+1, stmt.Method, err)
	}
	return doc, nil
}

// argArray parses the i'th argument as a JSON array of documents.
func argArray(stmt *MongoStatement, i int) ([]any, error) {
	if i >= len(stmt.Args) {
		return nil, errdefs.Validation("%s requires an array argument", stmt.Method)
	}
	var docs []bson.D
	if err := bson.UnmarshalExtJSON([]byte(stmt.Args[i]), false, &docs); err != nil {
		return nil, errdefs.Validation("argument %d of %s is not a valid JSON array: %v", i+1, stmt.Method, err)
	}
	out := make([]any, len(docs))
	for j, d := range docs {
		out[j] = d
	}
	return out, nil
}

// collectDocuments drains a cursor into result rows, capping at
// MaxResultRows and flagging truncation.
func collectDocuments(ctx context.Context, cursor *mongo.Cursor) (*Result, error) {
	defer cursor.Close(ctx)

	result := &Result{}
	for cursor.Next(ctx) {
		if len(result.Rows) >= MaxResultRows {
			result.Truncated = true
			break
		}
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errdefs.QueryExecution(err, "failed to decode document")
		}
		result.Rows = append(result.Rows, doc)
	}
	if !result.Truncated {
		if err := cursor.Err(); err != nil {
			return nil, errdefs.QueryExecution(err, "cursor iteration failed")
		}
	}
	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}
