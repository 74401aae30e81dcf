package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	jsonutil "github.com/jentle/kafka-connect-mongo/pkg/json"
)

func TestParseNamespaces(t *testing.T) {
	namespaces, err := ParseNamespaces("shop.orders, shop.users,analytics.events")
	require.NoError(t, err)

	assert.Equal(t, []Namespace{
		{Database: "shop", Collection: "orders"},
		{Database: "shop", Collection: "users"},
		{Database: "analytics", Collection: "events"},
	}, namespaces)
}

func TestParseNamespaces_NestedCollectionName(t *testing.T) {
	// Only the first dot separates database from collection
	namespaces, err := ParseNamespaces("shop.orders.archive")
	require.NoError(t, err)

	require.Len(t, namespaces, 1)
	assert.Equal(t, "shop", namespaces[0].Database)
	assert.Equal(t, "orders.archive", namespaces[0].Collection)
}

func TestParseNamespaces_Invalid(t *testing.T) {
	cases := []string{"", " , ", "noseparator", ".orders", "shop."}
	for _, input := range cases {
		_, err := ParseNamespaces(input)
		assert.Error(t, err, "input %q", input)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "input %q", input)
	}
}

func TestTopicName(t *testing.T) {
	ns := Namespace{Database: "shop", Collection: "orders"}
	assert.Equal(t, "prod_shop_orders", TopicName("prod", ns))
}

func TestTopicName_SanitizesDots(t *testing.T) {
	ns := Namespace{Database: "shop", Collection: "orders.archive"}
	assert.Equal(t, "my_prefix_shop_orders_archive", TopicName("my.prefix", ns))
}

func TestNamespace_String(t *testing.T) {
	ns := Namespace{Database: "shop", Collection: "orders"}
	assert.Equal(t, "shop.orders", ns.String())
	assert.Equal(t, "shop_orders", ns.Qualifier())
}

func TestDocumentID(t *testing.T) {
	oid := primitive.NewObjectID()

	id, ok := DocumentID(bson.D{{Key: "name", Value: "a"}, {Key: "_id", Value: oid}})
	assert.True(t, ok)
	assert.Equal(t, oid, id)

	_, ok = DocumentID(bson.D{{Key: "name", Value: "a"}})
	assert.False(t, ok)

	_, ok = DocumentID(bson.D{{Key: "_id", Value: "not-an-objectid"}})
	assert.False(t, ok)
}

func TestEncoder_Encode(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("5c1e8b5a0000000000000000")
	require.NoError(t, err)

	enc := NewEncoder("t", Namespace{Database: "a", Collection: "x"})
	assert.Equal(t, "t_a_x", enc.Topic())

	msg, err := enc.Encode(bson.D{
		{Key: "_id", Value: oid},
		{Key: "name", Value: "widget"},
		{Key: "qty", Value: int32(7)},
	})
	require.NoError(t, err)

	assert.Equal(t, "t_a_x", msg.Topic)
	assert.Equal(t,
		`{"schema":{"type":"string","optional":true},"payload":"5c1e8b5a0000000000000000"}`,
		string(msg.Key))

	var value struct {
		Schema struct {
			Type     string `json:"type"`
			Optional bool   `json:"optional"`
			Name     string `json:"name"`
			Fields   []struct {
				Field    string `json:"field"`
				Type     string `json:"type"`
				Optional bool   `json:"optional"`
			} `json:"fields"`
		} `json:"schema"`
		Payload struct {
			ID       string `json:"id"`
			Ts       int64  `json:"ts"`
			Inc      int32  `json:"inc"`
			Database string `json:"database"`
			Op       string `json:"op"`
			Object   string `json:"object"`
		} `json:"payload"`
	}
	require.NoError(t, jsonutil.Unmarshal(msg.Value, &value))

	assert.Equal(t, "struct", value.Schema.Type)
	assert.False(t, value.Schema.Optional)
	assert.Equal(t, "t_a_x", value.Schema.Name)

	fieldNames := make([]string, 0, len(value.Schema.Fields))
	for _, f := range value.Schema.Fields {
		fieldNames = append(fieldNames, f.Field)
		assert.True(t, f.Optional, "field %s", f.Field)
	}
	assert.Equal(t, []string{"ts", "inc", "id", "database", "op", "object"}, fieldNames)
	assert.Equal(t, "int32", value.Schema.Fields[0].Type)
	assert.Equal(t, "int32", value.Schema.Fields[1].Type)
	assert.Equal(t, "string", value.Schema.Fields[2].Type)

	assert.Equal(t, "5c1e8b5a0000000000000000", value.Payload.ID)
	assert.Equal(t, oid.Timestamp().Unix(), value.Payload.Ts)
	assert.Equal(t, int32(0), value.Payload.Inc)
	assert.Equal(t, "a_x", value.Payload.Database)
	assert.Equal(t, "i", value.Payload.Op)
	assert.Equal(t,
		`{"_id":{"$oid":"5c1e8b5a0000000000000000"},"name":"widget","qty":7}`,
		value.Payload.Object)
}

func TestEncoder_EncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder("t", Namespace{Database: "a", Collection: "x"})
	doc := bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: "b", Value: "1"},
		{Key: "a", Value: "2"},
		{Key: "nested", Value: bson.D{{Key: "z", Value: 1}, {Key: "y", Value: 2}}},
	}

	first, err := enc.Encode(doc)
	require.NoError(t, err)
	second, err := enc.Encode(doc)
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Value, second.Value)
}

func TestEncoder_SchemaStableAcrossDocuments(t *testing.T) {
	enc := NewEncoder("t", Namespace{Database: "a", Collection: "x"})

	extractSchema := func(raw []byte) string {
		var env struct {
			Schema map[string]interface{} `json:"schema"`
		}
		require.NoError(t, jsonutil.Unmarshal(raw, &env))
		out, err := jsonutil.Marshal(env.Schema)
		require.NoError(t, err)
		return string(out)
	}

	first, err := enc.Encode(bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "a", Value: 1}})
	require.NoError(t, err)
	second, err := enc.Encode(bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "totally", Value: "different"}})
	require.NoError(t, err)

	assert.Equal(t, extractSchema(first.Value), extractSchema(second.Value))
}

func TestEncoder_EncodeMissingID(t *testing.T) {
	enc := NewEncoder("t", Namespace{Database: "a", Collection: "x"})

	_, err := enc.Encode(bson.D{{Key: "name", Value: "no id"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = enc.Encode(bson.D{{Key: "_id", Value: "string-id"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}
