package shadow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergePatchNestedMerge(t *testing.T) {
	doc := map[string]interface{}{
		"chargingStation": map[string]interface{}{
			"model":      "EVB-42",
			"vendorName": "Acme",
		},
		"connectors": map[string]interface{}{
			"1/1": map[string]interface{}{"status": "Available"},
		},
	}
	patch := map[string]interface{}{
		"chargingStation": map[string]interface{}{
			"firmwareVersion": "1.2.0",
		},
		"connectors": map[string]interface{}{
			"1/2": map[string]interface{}{"status": "Occupied"},
		},
	}

	out := mergePatch(doc, patch)

	station := out["chargingStation"].(map[string]interface{})
	require.Equal(t, "EVB-42", station["model"])
	require.Equal(t, "1.2.0", station["firmwareVersion"])

	connectors := out["connectors"].(map[string]interface{})
	require.Len(t, connectors, 2)
}

func TestMergePatchNilDeletes(t *testing.T) {
	doc := map[string]interface{}{
		"activeTransaction": map[string]interface{}{"transactionId": "tx-1"},
		"bootReason":        "PowerUp",
	}
	out := mergePatch(doc, map[string]interface{}{"activeTransaction": nil})

	require.NotContains(t, out, "activeTransaction")
	require.Equal(t, "PowerUp", out["bootReason"])
}

func TestMergePatchReplacesScalarWithMap(t *testing.T) {
	doc := map[string]interface{}{"status": "Available"}
	out := mergePatch(doc, map[string]interface{}{
		"status": map[string]interface{}{"value": "Occupied"},
	})
	require.Equal(t, map[string]interface{}{"value": "Occupied"}, out["status"])
}

func TestMemoryMerge(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Merge(ctx, "cp-1", map[string]interface{}{"bootReason": "PowerUp"}))
	require.NoError(t, store.Merge(ctx, "cp-1", map[string]interface{}{
		"activeTransaction": map[string]interface{}{"transactionId": "tx-1"},
	}))

	doc := store.Document("cp-1")
	require.Equal(t, "PowerUp", doc["bootReason"])
	require.Contains(t, doc, "activeTransaction")

	require.Nil(t, store.Document("cp-unknown"))
}
