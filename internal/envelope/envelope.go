// Package envelope builds the Kafka Connect style key/value envelopes that
// wrap exported documents for transport.
package envelope

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	jsonutil "github.com/jentle/kafka-connect-mongo/pkg/json"
)

// Namespace identifies a database-qualified source collection
type Namespace struct {
	Database   string
	Collection string
}

// ParseNamespaces parses a comma-separated list of database.collection names
func ParseNamespaces(s string) ([]Namespace, error) {
	parts := strings.Split(s, ",")
	namespaces := make([]Namespace, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.Index(part, ".")
		if idx <= 0 || idx == len(part)-1 {
			return nil, errors.New(errors.ErrorTypeConfig, "invalid database.collection name").
				WithDetail("name", part)
		}

		namespaces = append(namespaces, Namespace{
			Database:   part[:idx],
			Collection: part[idx+1:],
		})
	}

	if len(namespaces) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no collections configured")
	}

	return namespaces, nil
}

// String returns the database-qualified collection name
func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// Qualifier returns the namespace with separators normalized to underscores.
// The same normalization keeps derived topic names collision-free with the
// underscore used to join prefix, database and collection.
func (n Namespace) Qualifier() string {
	return sanitize(n.Database) + "_" + sanitize(n.Collection)
}

// sanitize normalizes name separator characters to underscores
func sanitize(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// TopicName derives the routing key for a namespace. The same
// (prefix, database, collection) tuple always yields the same topic.
func TopicName(prefix string, ns Namespace) string {
	return sanitize(prefix) + "_" + ns.Qualifier()
}

// Message is an outbound unit of work: a routing key plus the serialized
// key and value envelopes. Immutable once constructed.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// keySchema describes the scalar key payload
type keySchema struct {
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
}

// keyEnvelope is the wire shape of the message key
type keyEnvelope struct {
	Schema  keySchema `json:"schema"`
	Payload string    `json:"payload"`
}

// fieldSchema describes one field of the value struct schema
type fieldSchema struct {
	Field    string `json:"field"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
}

// valueSchema describes the fixed six-field value struct
type valueSchema struct {
	Type     string        `json:"type"`
	Optional bool          `json:"optional"`
	Name     string        `json:"name"`
	Fields   []fieldSchema `json:"fields"`
}

// valuePayload carries the exported document
type valuePayload struct {
	ID       string `json:"id"`
	Ts       int64  `json:"ts"`
	Inc      int32  `json:"inc"`
	Database string `json:"database"`
	Op       string `json:"op"`
	Object   string `json:"object"`
}

// valueEnvelope is the wire shape of the message value
type valueEnvelope struct {
	Schema  valueSchema  `json:"schema"`
	Payload valuePayload `json:"payload"`
}

// opImport tags every bulk-exported document as an insert
const opImport = "i"

// Encoder turns documents from one collection into Messages. The value
// schema is fixed per encoder, so every message on one topic carries a
// structurally identical schema descriptor.
type Encoder struct {
	topic     string
	qualifier string
	schema    valueSchema
}

// NewEncoder creates an encoder for one source namespace
func NewEncoder(topicPrefix string, ns Namespace) *Encoder {
	topic := TopicName(topicPrefix, ns)
	return &Encoder{
		topic:     topic,
		qualifier: ns.Qualifier(),
		schema: valueSchema{
			Type:     "struct",
			Optional: false,
			Name:     topic,
			Fields: []fieldSchema{
				{Field: "ts", Type: "int32", Optional: true},
				{Field: "inc", Type: "int32", Optional: true},
				{Field: "id", Type: "string", Optional: true},
				{Field: "database", Type: "string", Optional: true},
				{Field: "op", Type: "string", Optional: true},
				{Field: "object", Type: "string", Optional: true},
			},
		},
	}
}

// Topic returns the routing key all messages from this encoder carry
func (e *Encoder) Topic() string {
	return e.topic
}

// DocumentID extracts the ObjectID identifier of a document, or false when
// the document has no ObjectID _id.
func DocumentID(doc bson.D) (primitive.ObjectID, bool) {
	for _, elem := range doc {
		if elem.Key == "_id" {
			id, ok := elem.Value.(primitive.ObjectID)
			return id, ok
		}
	}
	return primitive.NilObjectID, false
}

// Encode wraps a single document into a Message. It is a pure
// transformation: encoding the same document twice yields byte-identical
// payloads. Documents without an ObjectID _id violate the caller contract
// and yield a data error.
func (e *Encoder) Encode(doc bson.D) (Message, error) {
	id, ok := DocumentID(doc)
	if !ok {
		return Message{}, errors.New(errors.ErrorTypeData, "document has no ObjectId _id").
			WithDetail("collection", e.qualifier)
	}

	object, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return Message{}, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize document")
	}

	hexID := id.Hex()

	key, err := jsonutil.Marshal(keyEnvelope{
		Schema:  keySchema{Type: "string", Optional: true},
		Payload: hexID,
	})
	if err != nil {
		return Message{}, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize message key")
	}

	value, err := jsonutil.Marshal(valueEnvelope{
		Schema: e.schema,
		Payload: valuePayload{
			ID:       hexID,
			Ts:       id.Timestamp().Unix(),
			Inc:      0,
			Database: e.qualifier,
			Op:       opImport,
			Object:   string(object),
		},
	})
	if err != nil {
		return Message{}, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize message value")
	}

	return Message{Topic: e.topic, Key: key, Value: value}, nil
}
