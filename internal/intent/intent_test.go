package intent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text    string
		tag     Tag
		matcher string
	}{
		{"Confirmá", TagConfirm, "confirm_token"},
		{"dale!", TagConfirm, "confirm_token"},
		{"sí", TagConfirm, "confirm_token"},
		{"ok, mandale nomas", TagConfirm, "confirm_main"},
		{"Cancelar", TagCancel, "cancel_token"},
		{"dejalo de lado", TagCancel, "cancel_token"},
		{"olvidalo, che", TagCancel, "cancel_main"},
		{"mejor no", TagCancel, "cancel_mejor_no"},
		{"nop", TagCancel, "cancel_only_no"},
		{"cuál es el precio del 42", TagPriceWord, "price_word"},
		{"cambiá la descripción", TagActionVerb, "action_verb"},
		{"cuánto stock queda", TagStockWord, "stock_word"},
		{"hola", TagNone, ""},
		{"", TagNone, ""},
	}
	for _, tc := range cases {
		got := Classify(tc.text)
		require.Equal(t, tc.tag, got.Tag, "text %q", tc.text)
		require.Equal(t, tc.matcher, got.Matcher, "text %q", tc.text)
	}
}

func TestLooksLike(t *testing.T) {
	require.True(t, LooksLikeConfirm("confirmo"))
	require.True(t, LooksLikeConfirm("listo, ejecutalo"))
	require.False(t, LooksLikeConfirm("subí el precio del producto 42 a 1500"))

	require.True(t, LooksLikeCancel("cancelá eso"))
	require.True(t, LooksLikeCancel("no"))
	require.False(t, LooksLikeCancel("nono quiero otro"))
	require.False(t, LooksLikeCancel("subí el precio del producto 42 a 1500"))
}

func TestTableNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Table {
		require.NotEmpty(t, m.Name)
		require.NotEqual(t, TagNone, m.Tag)
		require.False(t, seen[m.Name], "duplicate matcher %s", m.Name)
		seen[m.Name] = true
	}
}
