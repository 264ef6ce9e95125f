package threshold

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, b Bound) float64 {
	t.Helper()
	v, ok := b.Value()
	require.True(t, ok, "bound should be set")
	return v
}

func TestApplyMaxZeroIsIgnored(t *testing.T) {
	store := NewStore()
	NewSync(store).ApplyDesiredProperties("test", map[string]any{PropMaxTemperature: "0"})

	assert.False(t, store.Read().MaxTemperature.IsSet())
}

func TestApplyMinZeroIsApplied(t *testing.T) {
	store := NewStore()
	NewSync(store).ApplyDesiredProperties("test", map[string]any{PropMinTemperature: "0"})

	assert.Equal(t, 0.0, value(t, store.Read().MinTemperature))
}

func TestApplyMaxNegativeKeepsPrevious(t *testing.T) {
	store := NewStore()
	store.Replace(Set{}.With(MaxHumidity, At(80)))

	NewSync(store).ApplyDesiredProperties("test", map[string]any{PropMaxHumidity: -3.0})

	assert.Equal(t, 80.0, value(t, store.Read().MaxHumidity))
}

func TestApplyMinNegativeIsApplied(t *testing.T) {
	store := NewStore()
	NewSync(store).ApplyDesiredProperties("test", map[string]any{PropMinPressure: "-12.5"})

	assert.Equal(t, -12.5, value(t, store.Read().MinPressure))
}

func TestApplyAllSixProperties(t *testing.T) {
	store := NewStore()
	NewSync(store).ApplyDesiredProperties("test", map[string]any{
		PropMaxTemperature: 35.0,
		PropMinTemperature: "5",
		PropMaxPressure:    json.Number("1100"),
		PropMinPressure:    900,
		PropMaxHumidity:    "80.5",
		PropMinHumidity:    int64(20),
		"SomethingElse":    "ignored",
	})

	set := store.Read()
	assert.Equal(t, 35.0, value(t, set.MaxTemperature))
	assert.Equal(t, 5.0, value(t, set.MinTemperature))
	assert.Equal(t, 1100.0, value(t, set.MaxPressure))
	assert.Equal(t, 900.0, value(t, set.MinPressure))
	assert.Equal(t, 80.5, value(t, set.MaxHumidity))
	assert.Equal(t, 20.0, value(t, set.MinHumidity))
}

func TestApplyUnparseableSkipsOnlyThatField(t *testing.T) {
	store := NewStore()
	store.Replace(Set{}.With(MaxTemperature, At(30)))

	NewSync(store).ApplyDesiredProperties("test", map[string]any{
		PropMaxTemperature: "warm",
		PropMinTemperature: true,
		PropMaxPressure:    "NaN",
		PropMinHumidity:    "15",
	})

	set := store.Read()
	assert.Equal(t, 30.0, value(t, set.MaxTemperature))
	assert.False(t, set.MinTemperature.IsSet())
	assert.False(t, set.MaxPressure.IsSet())
	assert.Equal(t, 15.0, value(t, set.MinHumidity))
}

func TestApplyAbsentLeavesFieldsUntouched(t *testing.T) {
	store := NewStore()
	before := Set{}.
		With(MaxTemperature, At(30)).
		With(MinPressure, At(950))
	store.Replace(before)

	NewSync(store).ApplyDesiredProperties("test", map[string]any{
		PropMinPressure: nil,
		PropMaxPressure: "   ",
	})

	assert.Equal(t, before, store.Read())
}

func TestApplyUpdatesAreCumulative(t *testing.T) {
	store := NewStore()
	cfgSync := NewSync(store)

	cfgSync.ApplyDesiredProperties("startup", map[string]any{PropMaxTemperature: "35"})
	cfgSync.ApplyDesiredProperties("push", map[string]any{PropMinTemperature: "2"})

	set := store.Read()
	assert.Equal(t, 35.0, value(t, set.MaxTemperature))
	assert.Equal(t, 2.0, value(t, set.MinTemperature))
}

func TestStageReportsPerFieldResults(t *testing.T) {
	_, results := Stage(Set{}, map[string]any{
		PropMaxTemperature: "0",
		PropMinTemperature: "x",
		PropMaxPressure:    "1000",
	})

	byField := make(map[Field]FieldResult, len(results))
	for _, r := range results {
		byField[r.Field] = r
	}

	require.Len(t, results, len(Fields))
	assert.Equal(t, StatusNotPositive, byField[MaxTemperature].Status)
	assert.Equal(t, StatusUnparseable, byField[MinTemperature].Status)
	assert.Error(t, byField[MinTemperature].Err)
	assert.Equal(t, StatusApplied, byField[MaxPressure].Status)
	assert.Equal(t, StatusAbsent, byField[MinHumidity].Status)
}

func TestStageDoesNotMutateCurrent(t *testing.T) {
	current := Set{}.With(MaxTemperature, At(10))
	next, _ := Stage(current, map[string]any{PropMaxTemperature: "20"})

	assert.Equal(t, 10.0, value(t, current.MaxTemperature))
	assert.Equal(t, 20.0, value(t, next.MaxTemperature))
}
