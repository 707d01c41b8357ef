package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "med 99", Normalize("  MED__99 "))
	assert.Equal(t, "vitamin c 500", Normalize("Vitamin   C\t500"))
	assert.Equal(t, "", Normalize("   "))
}

func TestSimilarity_Reflexive(t *testing.T) {
	for _, name := range []string{"Paracetamol", "a", "Amoxicillin 250mg", "med 99", "Vitamin C"} {
		assert.Equal(t, 1.0, Similarity(name, name), name)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Paracetamol", "Paracetmol"},
		{"Amoxicillin", "Ibuprofen"},
		{"cough syrup", "syrup cough"},
		{"med 45mg", "medication med 45ml"},
		{"abcab", "bcabc"},
		{"Vitamin 500", "Calcium 500"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestSimilarity_CaseInsensitiveExact(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Paracetamol", "paracetamol"))
	assert.Equal(t, 1.0, Similarity("med 99", "MED_99"))
}

func TestSimilarity_UnrelatedNamesStayLow(t *testing.T) {
	assert.Less(t, Similarity("Amoxicillin", "Ibuprofen"), 0.35)
	assert.Less(t, Similarity("Cetirizine", "Paracetamol 500mg"), 0.8)
}

func TestSimilarity_Typo(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("Amoxicilin 250mg", "Amoxicillin 250mg"), 0.8)
	assert.GreaterOrEqual(t, Similarity("Paracetmol", "Paracetamol"), 0.8)
}

func TestSimilarity_WordOverlapBoost(t *testing.T) {
	base := ratio([]rune("cough syrup"), []rune("syrup cough"))
	assert.Less(t, base, 0.6)
	assert.InDelta(t, 0.85, Similarity("syrup cough", "cough syrup"), 1e-9)
}

func TestSimilarity_NumericTokenBoost(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("Vitamin 500", "Calcium 500"), 0.8)
	assert.Less(t, Similarity("Vitamin 500", "Calcium 250"), 0.8)
}

func TestSimilarity_MedKeywordBoost(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("med 45mg", "medication med 45ml"), 0.7)
}

func TestSimilarity_ContainmentFloor(t *testing.T) {
	score := Similarity("ibuprofen", "ibuprofen syrup for children")
	assert.GreaterOrEqual(t, score, 9.0/28.0*0.75)
}

func TestSimilarity_Range(t *testing.T) {
	inputs := []string{"", "x", "Paracetamol", "med 1", "1 2 3", "Ibuprofen 400", "ibuprofen"}
	for _, a := range inputs {
		for _, b := range inputs {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestMatchedChars(t *testing.T) {
	assert.Equal(t, 2, matchedChars([]rune("amoxicillin"), []rune("ibuprofen")))
	assert.Equal(t, 16, matchedChars([]rune("amoxicilin 250mg"), []rune("amoxicillin 250mg")))
	assert.Equal(t, 0, matchedChars([]rune("abc"), []rune("xyz")))
}
