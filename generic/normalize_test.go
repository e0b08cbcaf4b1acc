package generic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var advanceFields = generic.RecordFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"staff_id", "staffId", "staff"},
		SecondaryCode: []string{"employee_id", "staff.employee_id"},
		Name:          []string{"staff_name", "staff"},
	},
	ID:       []string{"_id", "id"},
	Category: []string{"type"},
	Amount:   []string{"amount"},
	Status:   []string{"status"},
}

var staffFields = generic.PersonFields{
	FieldMap: generic.FieldMap{
		PrimaryID:     []string{"_id", "id"},
		SecondaryCode: []string{"employee_id"},
		Name:          []string{"name"},
	},
	Embedded: []string{"advance"},
	EmbeddedFields: generic.RecordFields{
		ID:       []string{"_id"},
		Category: []string{"type"},
		Amount:   []string{"amount"},
		Status:   []string{"status"},
	},
}

func decode(t *testing.T, raw string) generic.Record {
	t.Helper()
	var rec generic.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

// =============================================================================
// CANONICAL FORMS
// =============================================================================

func TestCanonicalID_NumericVariantsAreEquivalent(t *testing.T) {
	for _, v := range []any{"42", 42, 42.0, " 42 ", json.Number("42"), "042"} {
		assert.Equal(t, "42", generic.CanonicalID(v), "value %#v", v)
	}
}

func TestCanonicalID_StringsAreCaseFolded(t *testing.T) {
	assert.Equal(t, "e007", generic.CanonicalID(" E007 "))
	assert.Equal(t, "", generic.CanonicalID(nil))
	assert.Equal(t, "", generic.CanonicalID("   "))
	assert.Equal(t, "", generic.CanonicalID(true))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ram lal", generic.NormalizeName("  Ram   LAL "))
	assert.Equal(t, "", generic.NormalizeName(" "))
}

// =============================================================================
// NORMALIZE
// =============================================================================

func TestNormalize_OrderedByProvenance(t *testing.T) {
	rec := decode(t, `{"staff_name":"Ram Lal","employee_id":"E007","staff_id":" 17 "}`)

	keys := generic.Normalize(rec, advanceFields.FieldMap)

	require.Len(t, keys, 3)
	assert.Equal(t, generic.ProvPrimaryID, keys[0].Provenance)
	assert.Equal(t, "17", keys[0].Value)
	assert.Equal(t, generic.ProvSecondaryCode, keys[1].Provenance)
	assert.Equal(t, "e007", keys[1].Value)
	assert.Equal(t, "E007", keys[1].Raw)
	assert.Equal(t, generic.ProvName, keys[2].Provenance)
	assert.Equal(t, "ram lal", keys[2].Value)
}

func TestNormalize_EmbeddedObjectYieldsIDAndName(t *testing.T) {
	// GIVEN: The backend populated the staff reference
	rec := decode(t, `{"staff":{"_id":"abc","name":"Sita Devi","employee_id":"E010"}}`)

	keys := generic.Normalize(rec, advanceFields.FieldMap)

	// THEN: The object contributes its id, its nested code and its name
	var provs []generic.Provenance
	for _, k := range keys {
		provs = append(provs, k.Provenance)
	}
	assert.Equal(t, []generic.Provenance{generic.ProvPrimaryID, generic.ProvSecondaryCode, generic.ProvName}, provs)
	assert.Equal(t, "abc", keys[0].Value)
	assert.Equal(t, "e010", keys[1].Value)
	assert.Equal(t, "sita devi", keys[2].Value)
}

func TestNormalize_MissingAndNullFieldsProduceNothing(t *testing.T) {
	rec := decode(t, `{"staff_id":null,"employee_id":"","staff_name":"  "}`)
	assert.Empty(t, generic.Normalize(rec, advanceFields.FieldMap))
	assert.Empty(t, generic.Normalize(nil, advanceFields.FieldMap))
}

func TestNormalize_DuplicatesDropped(t *testing.T) {
	rec := decode(t, `{"staff_id":"17","staffId":17}`)
	keys := generic.Normalize(rec, advanceFields.FieldMap)
	require.Len(t, keys, 1)
	assert.Equal(t, "staff_id", keys[0].Path)
}

// =============================================================================
// BUILDERS
// =============================================================================

func TestNewAttachedRecord(t *testing.T) {
	rec := decode(t, `{"_id":"a1","type":" Advance ","amount":"1,500","status":"ACTIVE","staff_id":"p1"}`)

	ar := generic.NewAttachedRecord(rec, advanceFields)

	assert.Equal(t, "a1", ar.ID)
	assert.Equal(t, "advance", ar.Category)
	assert.Equal(t, "active", ar.Status)
	assert.Equal(t, "1500", ar.Amount.String())
	assert.True(t, ar.HasKey(generic.ProvPrimaryID, "p1"))
}

func TestNewPerson_WithEmbeddedAttachment(t *testing.T) {
	rec := decode(t, `{"_id":"p1","employee_id":"E007","name":" Ram Lal ","advance":{"type":"advance","amount":250,"status":"active"}}`)

	p := generic.NewPerson(rec, staffFields)

	assert.Equal(t, "p1", p.PrimaryID)
	assert.Equal(t, "e007", p.SecondaryCode)
	assert.Equal(t, "Ram Lal", p.DisplayName)
	require.NotNil(t, p.Embedded)
	assert.Equal(t, "embedded:p1", p.Embedded.ID)
	assert.Equal(t, "250", p.Embedded.Amount.String())
}

func TestNewPerson_EmptyEmbeddedObjectIgnored(t *testing.T) {
	p := generic.NewPerson(decode(t, `{"_id":"p1","advance":{}}`), staffFields)
	assert.Nil(t, p.Embedded)
}
