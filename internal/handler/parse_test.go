package handler

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/transfer"
)

var catalog = []model.ResourceType{
	{ID: 1, Name: model.ResourceRawFood, Emoji: "🌾"},
	{ID: 2, Name: model.ResourcePreparedMeal, Emoji: "🍲"},
	{ID: 3, Name: "Bois brut", Emoji: "🪵"},
}

func TestParseQuantities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []transfer.Leg
	}{
		{"spaces", "vivres=10 Repas=2", []transfer.Leg{
			{ResourceTypeID: 1, Name: "Vivres", Quantity: 10},
			{ResourceTypeID: 2, Name: "Repas", Quantity: 2},
		}},
		{"commas with spaced name", "Bois brut = 3, vivres=1", []transfer.Leg{
			{ResourceTypeID: 3, Name: "Bois brut", Quantity: 3},
			{ResourceTypeID: 1, Name: "Vivres", Quantity: 1},
		}},
		{"by id", "2=5", []transfer.Leg{{ResourceTypeID: 2, Name: "Repas", Quantity: 5}}},
		{"spaced name without commas", "Bois brut=3 Vivres=2", []transfer.Leg{
			{ResourceTypeID: 3, Name: "Bois brut", Quantity: 3},
			{ResourceTypeID: 1, Name: "Vivres", Quantity: 2},
		}},
		{"spaced name last", "repas=1 bois brut=7", []transfer.Leg{
			{ResourceTypeID: 2, Name: "Repas", Quantity: 1},
			{ResourceTypeID: 3, Name: "Bois brut", Quantity: 7},
		}},
		{"detached equals", "Bois brut = 4 Repas = 2", []transfer.Leg{
			{ResourceTypeID: 3, Name: "Bois brut", Quantity: 4},
			{ResourceTypeID: 2, Name: "Repas", Quantity: 2},
		}},
		{"newlines", "Vivres=4\nRepas=1\n", []transfer.Leg{
			{ResourceTypeID: 1, Name: "Vivres", Quantity: 4},
			{ResourceTypeID: 2, Name: "Repas", Quantity: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuantities(tt.text, catalog)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuantitiesRejects(t *testing.T) {
	tests := []struct {
		text  string
		field string
	}{
		{"", "quantités"},
		{"vivres", "vivres"},
		{"or=3", "or"},
		{"9=3", "9"},
		{"vivres=abc", "Vivres"},
		{"vivres=0", "Vivres"},
		{"vivres=-4", "Vivres"},
		{"vivres=1 Vivres=2", "Vivres"},
		{"Bois brut=3 repas", "repas"},
		{"vivres 10", "vivres 10"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := ParseQuantities(tt.text, catalog)
			require.ErrorIs(t, err, apperr.ErrValidation)
			e, _ := apperr.As(err)
			assert.Equal(t, tt.field, e.Field)
			assert.NotEmpty(t, e.Range)
		})
	}
}

func TestParseCreateArgs(t *testing.T) {
	got, err := ParseCreateArgs([]string{"Grand", "Nord", "3", "vivres=10", "repas=2"})
	require.NoError(t, err)
	assert.Equal(t, CreateAction{Name: "Grand Nord", DurationDays: 3, Resources: "vivres=10 repas=2"}, got)

	got, err = ParseCreateArgs([]string{"42", "2"})
	require.NoError(t, err)
	assert.Equal(t, "42", got.Name, "a leading number is part of the name")

	_, err = ParseCreateArgs([]string{"Nord"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ParseCreateArgs([]string{"Nord", "0"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParseDurationAndNone(t *testing.T) {
	d, err := ParseDuration(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, 4, d)
	_, err = ParseDuration("zero")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.True(t, IsNone("Aucune"))
	assert.True(t, IsNone("-"))
	assert.False(t, IsNone("vivres=2"))
}

// TestParseQuantitiesRoundTripProperty tests Property 8: Quantity Parsing.
// *For any* set of distinct catalog types with positive quantities, the
// rendered "type=qty" form parses back to the same legs, whether pairs are
// joined by commas, new lines or plain spaces.
func TestParseQuantitiesRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		picked := rapid.SliceOfNDistinct(rapid.SampledFrom(catalog), 1, len(catalog), func(r model.ResourceType) int { return r.ID }).Draw(rt, "types")

		var parts []string
		var want []transfer.Leg
		for _, r := range picked {
			qty := rapid.IntRange(1, 10000).Draw(rt, "qty")
			parts = append(parts, r.Name+"="+strconv.Itoa(qty))
			want = append(want, transfer.Leg{ResourceTypeID: r.ID, Name: r.Name, Quantity: qty})
		}

		sep := rapid.SampledFrom([]string{", ", "\n", " "}).Draw(rt, "sep")
		got, err := ParseQuantities(strings.Join(parts, sep), catalog)
		if err != nil {
			rt.Fatalf("parse failed: %v", err)
		}
		if len(got) != len(want) {
			rt.Fatalf("got %d legs, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("leg %d: got %+v, want %+v", i, got[i], want[i])
			}
		}
	})
}
