package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/branch-ledger/generic"
)

// =============================================================================
// LIST SHAPES
// =============================================================================

func TestNormalizeListResponse_KnownShapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		shape Shape
		total int
	}{
		{"bare array", `[{"_id":"a"},{"_id":"b"}]`, ShapeArray, 2},
		{"entity key", `{"advances":[{"_id":"a"},{"_id":"b"}],"total":40}`, ShapeEntity, 40},
		{"data array", `{"data":[{"_id":"a"},{"_id":"b"}]}`, ShapeData, 2},
		{"data entity", `{"data":{"advances":[{"_id":"a"},{"_id":"b"}],"total":7}}`, ShapeDataEntity, 7},
		{"success entity", `{"success":true,"advances":[{"_id":"a"},{"_id":"b"}]}`, ShapeSuccess, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NormalizeListResponse([]byte(tc.body), "advances")

			require.NoError(t, res.Err())
			assert.Equal(t, tc.shape, res.Shape)
			require.Len(t, res.Items, 2)
			assert.Equal(t, "a", res.Items[0]["_id"])
			assert.Equal(t, tc.total, res.Total)
		})
	}
}

func TestNormalizeListResponse_UnknownIsNoData(t *testing.T) {
	for _, body := range []string{
		`{"success":false,"advances":[{"_id":"a"}]}`,
		`{"staff":[{"_id":"a"}]}`,
		`{"data":{"other":[]}}`,
		`"just a string"`,
		`not json`,
		``,
	} {
		res := NormalizeListResponse([]byte(body), "advances")
		assert.Equal(t, ShapeUnknown, res.Shape, "body %q", body)
		assert.Empty(t, res.Items)
		assert.ErrorIs(t, res.Err(), generic.ErrShape)
	}
}

func TestNormalizeListResponse_EntityBeatsData(t *testing.T) {
	res := NormalizeListResponse([]byte(`{"advances":[{"_id":"e"}],"data":[{"_id":"d"}]}`), "advances")
	assert.Equal(t, ShapeEntity, res.Shape)
	assert.Equal(t, "e", res.Items[0]["_id"])
}

func TestNormalizeListResponse_SkipsNonObjects(t *testing.T) {
	res := NormalizeListResponse([]byte(`[{"_id":"a"}, 3, null, "x"]`), "advances")
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.Total)
}

func TestNormalizeListResponse_EmptyArrayIsKnown(t *testing.T) {
	res := NormalizeListResponse([]byte(`{"advances":[]}`), "advances")
	assert.Equal(t, ShapeEntity, res.Shape)
	assert.NoError(t, res.Err())
	assert.Empty(t, res.Items)
}

// =============================================================================
// WRITE RESULTS
// =============================================================================

func TestParseWriteResult_Success(t *testing.T) {
	wr, err := ParseWriteResult(201, []byte(`{"success":true,"message":"created","advance":{"_id":"x1"}}`), "advance")

	require.NoError(t, err)
	assert.True(t, wr.Success)
	assert.Equal(t, "created", wr.Message)
	assert.Equal(t, "x1", wr.Entity["_id"])
}

func TestParseWriteResult_EmptyBodyIsSuccess(t *testing.T) {
	wr, err := ParseWriteResult(204, nil, "advance")
	require.NoError(t, err)
	assert.True(t, wr.Success)
}

func TestParseWriteResult_SuccessFalseIsRejected(t *testing.T) {
	_, err := ParseWriteResult(200, []byte(`{"success":false,"message":"amount exceeds limit"}`), "advance")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "amount exceeds limit", apiErr.Message)
	assert.ErrorIs(t, err, generic.ErrRejected)
	assert.True(t, generic.IsClientError(err))
}

func TestParseWriteResult_ErrorBodies(t *testing.T) {
	cases := []struct {
		status int
		body   string
		msg    string
		is     error
	}{
		{400, `{"detail":"staff not found"}`, "staff not found", generic.ErrRejected},
		{422, `{"detail":[{"loc":["amount"]}]}`, `[{"loc":["amount"]}]`, generic.ErrRejected},
		{401, `{"message":"token expired"}`, "token expired", generic.ErrAuthRequired},
		{403, `{}`, "", generic.ErrAuthRequired},
		{404, `{"detail":"no such staff"}`, "no such staff", generic.ErrNotFound},
		{502, `<html>bad gateway</html>`, "<html>bad gateway</html>", generic.ErrTransport},
	}
	for _, tc := range cases {
		_, err := ParseWriteResult(tc.status, []byte(tc.body), "advance")

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "status %d", tc.status)
		assert.Equal(t, tc.status, apiErr.Status)
		assert.Equal(t, tc.msg, apiErr.Message)
		assert.ErrorIs(t, err, tc.is, "status %d", tc.status)
	}
}
