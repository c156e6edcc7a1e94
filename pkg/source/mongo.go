package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// Mongo yields the documents of a MongoDB collection matching a filter.
// Without Config.Columns the columns are the sorted union of the top-level
// fields of the leading documents.
type Mongo struct {
	base
	client  *mongo.Client
	cursor  *mongo.Cursor
	pending []bson.M
}

// OpenMongo connects to cfg.DSN and opens a cursor over cfg.Collection in
// cfg.Database.
func OpenMongo(ctx context.Context, cfg Config) (*Mongo, error) {
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "database and collection are required")
	}
	filter := bson.M{}
	if cfg.Filter != "" {
		if err := bson.UnmarshalExtJSON([]byte(cfg.Filter), false, &filter); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid filter")
		}
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	cursor, err := client.Database(cfg.Database).Collection(cfg.Collection).Find(ctx, filter)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "find failed")
	}

	src := &Mongo{client: client, cursor: cursor}
	if err := src.describe(ctx, cfg); err != nil {
		_ = src.Close()
		return nil, err
	}
	return src, nil
}

func (m *Mongo) describe(ctx context.Context, cfg Config) error {
	cols := cfg.Columns
	if len(cols) == 0 {
		sample := cfg.SampleRows
		if sample <= 0 {
			sample = DefaultSampleRows
		}
		for len(m.pending) < sample && m.cursor.Next(ctx) {
			var doc bson.M
			if err := m.cursor.Decode(&doc); err != nil {
				return errors.Wrap(err, errors.ErrorTypeSetup, "failed to decode document")
			}
			m.pending = append(m.pending, doc)
		}
		if err := m.cursor.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSetup, "failed to read sample")
		}
		cols = documentColumns(m.pending)
		if len(cols) == 0 {
			return errors.New(errors.ErrorTypeSetup, "no documents to derive columns from")
		}
	}
	var err error
	m.base, err = newBase(cols)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSetup, "invalid document fields")
	}
	return nil
}

// documentColumns infers columns from sample documents.
func documentColumns(docs []bson.M) []table.Column {
	keys := make(map[string]struct{})
	for _, doc := range docs {
		for k := range doc {
			keys[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return inferColumns(names, func(yield func(int, string)) {
		for _, doc := range docs {
			for i, name := range names {
				if v, ok := doc[name]; ok && v != nil {
					yield(i, fmt.Sprint(bsonValue(v)))
				}
			}
		}
	})
}

// Next implements table.Source.
func (m *Mongo) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}
	var doc bson.M
	if len(m.pending) > 0 {
		doc, m.pending = m.pending[0], m.pending[1:]
	} else {
		if !m.cursor.Next(ctx) {
			if err := m.cursor.Err(); err != nil {
				return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "cursor failed")
			}
			return table.Row{}, io.EOF
		}
		if err := m.cursor.Decode(&doc); err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "failed to decode document")
		}
	}

	values := make([]any, len(m.def.Columns))
	for i, col := range m.def.Columns {
		v, ok := doc[col.Name]
		if !ok || v == nil {
			continue
		}
		v = bsonValue(v)
		if s, isText := v.(string); isText {
			v = parseText(s, col.Type)
		}
		values[i] = v
	}
	return m.row(values), nil
}

// Close implements table.Source.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var err error
	if m.cursor != nil {
		err = m.cursor.Close(ctx)
		m.cursor = nil
	}
	if m.client != nil {
		if derr := m.client.Disconnect(ctx); err == nil {
			err = derr
		}
		m.client = nil
	}
	return err
}

// bsonValue converts BSON scalar types to codec types. Documents and arrays
// become extended JSON text.
func bsonValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return t.String()
	case int32:
		return int64(t)
	case bson.M, bson.A, bson.D:
		b, err := bson.MarshalExtJSON(bson.M{"v": t}, false, false)
		if err != nil {
			return fmt.Sprint(t)
		}
		// strip the {"v": ...} wrapper
		s := string(b)
		return s[len(`{"v":`) : len(s)-1]
	default:
		return normalize(v)
	}
}
