package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type recordingAdder struct {
	args []*redis.XAddArgs
}

func (r *recordingAdder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	r.args = append(r.args, a)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("1-0")
	return cmd
}

func TestPublishToStream_StringifiesValues(t *testing.T) {
	adder := &recordingAdder{}

	id, err := PublishToStream(context.Background(), adder, "s", 100, map[string]interface{}{
		"count":  int64(5),
		"ok":     true,
		"avg":    41.5,
		"labels": []string{"a"},
	})
	require.NoError(t, err)
	require.Equal(t, "1-0", id)
	require.Len(t, adder.args, 1)

	values := adder.args[0].Values.(map[string]interface{})
	require.Equal(t, "5", values["count"])
	require.Equal(t, "true", values["ok"])
	require.Equal(t, "41.5", values["avg"])
	require.Equal(t, `["a"]`, values["labels"])
	require.Equal(t, int64(100), adder.args[0].MaxLen)
	require.True(t, adder.args[0].Approx)
}

func TestPublishJSONToStream(t *testing.T) {
	adder := &recordingAdder{}

	_, err := PublishJSONToStream(context.Background(), adder, "s", 0, map[string]int{"generation": 7})
	require.NoError(t, err)

	values := adder.args[0].Values.(map[string]interface{})
	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &decoded))
	require.Equal(t, 7, decoded["generation"])
	require.NotEmpty(t, values["timestamp"])
	require.False(t, adder.args[0].Approx)
}
