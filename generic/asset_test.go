package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/branch-ledger/generic"
)

func testResolver() generic.AssetResolver {
	return generic.AssetResolver{
		BaseOrigin: "https://x",
		DefaultDir: "uploads/photos",
		Fields:     []string{"photo_url", "photo", "image"},
	}
}

func TestResolveRef_Scenarios(t *testing.T) {
	ar := testResolver()

	u, ok := ar.ResolveRef("uploads/photos/42.png")
	assert.True(t, ok)
	assert.Equal(t, "https://x/uploads/photos/42.png", u)

	u, ok = ar.ResolveRef("data:image/png;base64,AAA")
	assert.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAA", u)

	u, ok = ar.ResolveRef(nil)
	assert.False(t, ok)
	assert.Equal(t, "", u)
}

func TestResolveRef_Classification(t *testing.T) {
	ar := testResolver()
	cases := []struct {
		in   any
		want string
	}{
		{"https://cdn.example.com/a/b.png", "https://cdn.example.com/a/b.png"},
		{"HTTP://cdn.example.com/a.png", "HTTP://cdn.example.com/a.png"},
		{"/uploads/photos/42.png", "https://x/uploads/photos/42.png"},
		{"uploads//photos///42.png", "https://x/uploads/photos/42.png"},
		{`uploads\photos\42.png`, "https://x/uploads/photos/42.png"},
		{"42.png", "https://x/uploads/photos/42.png"},
		{"/42.png", "https://x/uploads/photos/42.png"},
		{map[string]any{"url": "photos/7.jpg"}, "https://x/photos/7.jpg"},
	}
	for _, tc := range cases {
		got, ok := ar.ResolveRef(tc.in)
		assert.True(t, ok, "input %#v", tc.in)
		assert.Equal(t, tc.want, got, "input %#v", tc.in)
	}
}

func TestResolveRef_Unusable(t *testing.T) {
	ar := testResolver()
	for _, in := range []any{"", "   ", "null", "undefined", "/", 42, map[string]any{}} {
		_, ok := ar.ResolveRef(in)
		assert.False(t, ok, "input %#v", in)
	}
}

func TestResolve_TrailingSlashOnBase(t *testing.T) {
	ar := testResolver()
	ar.BaseOrigin = "https://x/"
	u, _ := ar.ResolveRef("uploads/a.png")
	assert.Equal(t, "https://x/uploads/a.png", u)
}

func TestResolve_FieldAndRecordPriority(t *testing.T) {
	ar := testResolver()
	db := generic.Record{"image": "db.png"}
	local := generic.Record{"photo_url": "https://cache/local.png"}

	// The database record wins even though its field has lower priority.
	u, ok := ar.Resolve(db, local)
	assert.True(t, ok)
	assert.Equal(t, "https://x/uploads/photos/db.png", u)

	// Within one record, field order decides.
	u, _ = ar.Resolve(generic.Record{"photo": "b.png", "photo_url": "a.png"})
	assert.Equal(t, "https://x/uploads/photos/a.png", u)

	// Unusable fields are skipped.
	u, _ = ar.Resolve(generic.Record{"photo_url": "", "photo": "c.png"})
	assert.Equal(t, "https://x/uploads/photos/c.png", u)
}

func TestResolve_NothingUsable(t *testing.T) {
	u, ok := testResolver().Resolve(generic.Record{"name": "x"}, nil)
	assert.False(t, ok)
	assert.Empty(t, u)
}
