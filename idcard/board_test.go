package idcard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/branch-ledger/generic"
)

func records(t *testing.T, raw string) []generic.Record {
	t.Helper()
	var out []generic.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func testBoard() *Board {
	return NewBoard(generic.AssetResolver{BaseOrigin: "https://x", DefaultDir: "uploads/photos"}, generic.Discard)
}

const studentsJSON = `[
	{"_id":"s1","admission_number":"A-101","name":"Asha Rai","photo":"asha.png"},
	{"_id":"s2","admission_number":"A-102","name":"Bikash Thapa"},
	{"_id":"s3","admission_number":"A-103","name":"Chandra Gurung","id_card":{"card_number":"C-9","status":"issued"}},
	{"_id":"s4","admission_number":"A-104","name":"Deepa KC"}
]`

func TestBuild_DerivesStatusPerStudent(t *testing.T) {
	// GIVEN: Cards referenced by id, by admission number and by name
	cards := records(t, `[
		{"_id":"c1","student_id":"s1","status":"printed","photo_url":"/uploads/photos/s1-card.png"},
		{"_id":"c2","admission_number":"a-102","status":"generated","expiry_date":"2026-01-31"},
		{"_id":"c4","student_name":"deepa kc","status":"Requested"}
	]`)

	// WHEN: The board is built
	report := testBoard().Build(records(t, studentsJSON), cards, now)

	// THEN: Every student has a derived status
	require.Len(t, report.Rows, 4)
	assert.Equal(t, StatusPrinted, report.Rows[0].Status)
	assert.Equal(t, StatusExpired, report.Rows[1].Status)
	require.NotNil(t, report.Rows[1].Expiry)
	assert.Equal(t, StatusIssued, report.Rows[2].Status)
	assert.Equal(t, generic.StrategyEmbedded, report.Rows[2].Strategy)
	assert.Equal(t, StatusPending, report.Rows[3].Status)
	assert.Equal(t, generic.StrategyFullName, report.Rows[3].Strategy)

	assert.Equal(t, 2, report.Active())
	assert.Equal(t, 1, report.Counts[StatusExpired])
	require.NoError(t, report.Reconciliation.Check())
}

func TestBuild_NoCardIsNone(t *testing.T) {
	report := testBoard().Build(records(t, studentsJSON), nil, now)
	assert.Equal(t, StatusNone, report.Rows[1].Status)
	assert.Nil(t, report.Rows[1].Card)
}

func TestBuild_PhotoFromCardBeforeStudent(t *testing.T) {
	cards := records(t, `[{"_id":"c1","student_id":"s1","status":"issued","photo_url":"/uploads/photos/s1-card.png"}]`)

	report := testBoard().Build(records(t, studentsJSON), cards, now)

	assert.Equal(t, "https://x/uploads/photos/s1-card.png", report.Rows[0].PhotoURL)
	assert.True(t, report.Rows[0].HasPhoto)

	report = testBoard().Build(records(t, studentsJSON), nil, now)
	assert.Equal(t, "https://x/uploads/photos/asha.png", report.Rows[0].PhotoURL)
	assert.False(t, report.Rows[1].HasPhoto)
	assert.Empty(t, report.Rows[1].PhotoURL)
}

func TestBuild_UnmatchedCardsAreObservable(t *testing.T) {
	cards := records(t, `[{"_id":"orphan","student_name":"Nobody Here","status":"issued"}]`)

	report := testBoard().Build(records(t, studentsJSON), cards, now)

	require.Len(t, report.Unresolved, 1)
	run := report.Run(now)
	assert.Equal(t, Domain, run.Domain)
	assert.Equal(t, "orphan", run.Unresolved[0].RecordID)
}

func TestBuild_SeveralCardsTakesFirst(t *testing.T) {
	cards := records(t, `[
		{"_id":"old","student_id":"s2","status":"issued"},
		{"_id":"new","student_id":"s2","status":"pending"}
	]`)

	report := testBoard().Build(records(t, studentsJSON), cards, now)

	assert.Equal(t, "old", report.Rows[1].Card.ID)
	assert.Equal(t, 1, report.Rows[1].ExtraCards)
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		status string
		expiry any
		want   CardStatus
	}{
		{"issued", nil, StatusIssued},
		{"delivered", "2027-01-01", StatusIssued},
		{"created", nil, StatusGenerated},
		{"something odd", nil, StatusPending},
		{"", nil, StatusPending},
		{"printed", "2026-05-31T23:59:59Z", StatusExpired},
		{"printed", "15/05/2026", StatusExpired},
		{"printed", "not a date", StatusPrinted},
	}
	for _, tc := range cases {
		fields := generic.Record{"status": tc.status}
		if tc.expiry != nil {
			fields["expiry_date"] = tc.expiry
		}
		card := generic.NewAttachedRecord(fields, CardFields)
		got, _ := DeriveStatus(&card, now)
		assert.Equal(t, tc.want, got, "status %q expiry %v", tc.status, tc.expiry)
	}

	got, exp := DeriveStatus(nil, now)
	assert.Equal(t, StatusNone, got)
	assert.Nil(t, exp)
}
