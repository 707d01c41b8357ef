package workflow

import (
	"context"
	"regexp"
	"testing"

	"pharmacy-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, fn ParseFunc, ws *models.WorkflowSession, in string) (string, error) {
	t.Helper()
	if ws == nil {
		ws = models.NewWorkflowSession(1, "test")
	}
	return fn(context.Background(), ws, Input{Text: in})
}

func TestDate(t *testing.T) {
	v, err := parse(t, Date(), nil, " 2024/03/09 ")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09", v)

	v, err = parse(t, Date(), nil, "09/03/2024")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09", v)

	_, err = parse(t, Date(), nil, "2024-13-40")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDateAfter(t *testing.T) {
	ws := models.NewWorkflowSession(1, "test")
	ws.Fields["mfg"] = "2024-01-01"

	_, err := parse(t, DateAfter("mfg"), ws, "2024-01-01")
	assert.Error(t, err)

	v, err := parse(t, DateAfter("mfg"), ws, "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", v)
}

func TestAmount(t *testing.T) {
	v, err := parse(t, Amount("price"), nil, "12.345")
	require.NoError(t, err)
	assert.Equal(t, "12.35", v)

	_, err = parse(t, Amount("price"), nil, "-1")
	assert.Error(t, err)
	_, err = parse(t, Amount("price"), nil, "abc")
	assert.Error(t, err)

	v, err = parse(t, SignedAmount("change"), nil, "-10")
	require.NoError(t, err)
	assert.Equal(t, "-10", v)
	_, err = parse(t, SignedAmount("change"), nil, "0")
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	v, err := parse(t, Int("quantity", 0, 100), nil, " 42 ")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	_, err = parse(t, Int("quantity", 0, 100), nil, "101")
	assert.Error(t, err)
	_, err = parse(t, Int("quantity", 0, 100), nil, "4.5")
	assert.Error(t, err)
}

func TestPhone(t *testing.T) {
	fn := Phone(regexp.MustCompile(`^(\+251|0)[79]\d{8}$`))

	for _, ok := range []string{"0912345678", "+251912345678", "0712 345 678", "091-234-5678"} {
		_, err := parse(t, fn, nil, ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"12345", "0812345678", "+1555123456", ""} {
		_, err := parse(t, fn, nil, bad)
		assert.Error(t, err, bad)
	}
}

func TestOneOfAndConfirm(t *testing.T) {
	fn := OneOf(Choice{Label: "Percentage", Value: "percent"}, Choice{Label: "Fixed amount", Value: "fixed"})
	v, err := parse(t, fn, nil, "percentage")
	require.NoError(t, err)
	assert.Equal(t, "percent", v)
	_, err = parse(t, fn, nil, "other")
	assert.Error(t, err)

	v, err = parse(t, Confirm("kept"), nil, "YES")
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	_, err = parse(t, Confirm("kept"), nil, "no")
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "kept", abort.Message)

	_, err = parse(t, Confirm("kept"), nil, "maybe")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPIN(t *testing.T) {
	_, err := parse(t, PIN("4321"), nil, "4321")
	assert.NoError(t, err)

	_, err = parse(t, PIN("4321"), nil, "1234")
	var abort *AbortError
	assert.ErrorAs(t, err, &abort)

	_, err = parse(t, PIN(""), nil, "")
	assert.ErrorAs(t, err, &abort)
}
