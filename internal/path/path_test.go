package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Segment
	}{
		{"empty", "", nil},
		{"single field", "Title", []Segment{{Field: "Title"}}},
		{"dotted chain", "Customer.Address.City", []Segment{
			{Field: "Customer"}, {Field: "Address"}, {Field: "City"},
		}},
		{"indexer", "Items[2].Name", []Segment{
			{Field: "Items", Indexes: []string{"2"}}, {Field: "Name"},
		}},
		{"string key indexer", "Lookup[en-US].Caption", []Segment{
			{Field: "Lookup", Indexes: []string{"en-US"}}, {Field: "Caption"},
		}},
		{"stacked indexers", "Grid[1][2]", []Segment{
			{Field: "Grid", Indexes: []string{"1", "2"}},
		}},
		{"leading indexer", "[0].Name", []Segment{
			{Indexes: []string{"0"}}, {Field: "Name"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Segments())
			assert.Equal(t, tt.raw, p.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		".Title",        // empty leading segment
		"Title.",        // trailing dot
		"A..B",          // empty middle segment
		"Items[",        // unterminated indexer
		"Items[]",       // empty indexer
		"Items]",        // stray close
		"Items[0]Name",  // field glued onto indexer
		"Sp ace",        // invalid character
	}
	for _, raw := range bad {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestLeafAndEmpty(t *testing.T) {
	assert.True(t, Path{}.IsEmpty())
	assert.Equal(t, "", Path{}.Leaf())

	p := MustParse("Customer.Address.City")
	assert.False(t, p.IsEmpty())
	assert.Equal(t, "City", p.Leaf())
}

func TestJoin(t *testing.T) {
	base := MustParse("Foo")
	seg := MustParse("Bar")

	joined := Join(base, seg)
	assert.Equal(t, "Foo.Bar", joined.String())
	assert.Len(t, joined.Segments(), 2)

	assert.Equal(t, "Bar", Join(Path{}, seg).String(), "empty base yields the segment")
	assert.Equal(t, "Foo", Join(base, Path{}).String(), "empty segment yields the base")
}

type address struct {
	City string
}

type customer struct {
	Name    string
	Address *address
	Tags    []string
	Scores  map[string]int
}

func TestNewReflectAccessor(t *testing.T) {
	acc := NewReflectAccessor()
	require.NotNil(t, acc)

	got, err := acc.Read(&customer{Name: "ada"}, MustParse("Name"))
	require.NoError(t, err)
	assert.Equal(t, "ada", got)
}

func TestReflectAccessorRead(t *testing.T) {
	acc := ReflectAccessor{}
	c := &customer{
		Name:    "ada",
		Address: &address{City: "London"},
		Tags:    []string{"vip", "early"},
		Scores:  map[string]int{"q1": 7},
	}

	tests := []struct {
		path string
		want any
	}{
		{"Name", "ada"},
		{"Address.City", "London"},
		{"Tags[1]", "early"},
		{"Scores[q1]", 7},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := acc.Read(c, MustParse(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("empty path returns the object", func(t *testing.T) {
		got, err := acc.Read(c, Path{})
		require.NoError(t, err)
		assert.Same(t, c, got)
	})

	t.Run("map read", func(t *testing.T) {
		m := map[string]any{"Reading": 42}
		got, err := acc.Read(m, MustParse("Reading"))
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}

func TestReflectAccessorReadErrors(t *testing.T) {
	acc := ReflectAccessor{}
	c := &customer{Tags: []string{"one"}}

	cases := []struct {
		name string
		obj  any
		path string
	}{
		{"nil object", nil, "Name"},
		{"unknown field", c, "Missing"},
		{"index out of range", c, "Tags[5]"},
		{"index into scalar", c, "Name[0]"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acc.Read(tt.obj, MustParse(tt.path))
			require.Error(t, err)
			var ae *AccessError
			assert.ErrorAs(t, err, &ae)
		})
	}
}

func TestReflectAccessorWrite(t *testing.T) {
	acc := ReflectAccessor{}

	t.Run("struct field", func(t *testing.T) {
		c := &customer{Name: "ada"}
		require.NoError(t, acc.Write(c, MustParse("Name"), "lovelace"))
		assert.Equal(t, "lovelace", c.Name)
	})

	t.Run("nested field", func(t *testing.T) {
		c := &customer{Address: &address{City: "London"}}
		require.NoError(t, acc.Write(c, MustParse("Address.City"), "Bath"))
		assert.Equal(t, "Bath", c.Address.City)
	})

	t.Run("slice element", func(t *testing.T) {
		c := &customer{Tags: []string{"a", "b"}}
		require.NoError(t, acc.Write(c, MustParse("Tags[0]"), "z"))
		assert.Equal(t, []string{"z", "b"}, c.Tags)
	})

	t.Run("map key", func(t *testing.T) {
		c := &customer{Scores: map[string]int{}}
		require.NoError(t, acc.Write(c, MustParse("Scores[q2]"), 9))
		assert.Equal(t, 9, c.Scores["q2"])
	})

	t.Run("empty path rejected", func(t *testing.T) {
		err := acc.Write(&customer{}, Path{}, "x")
		require.Error(t, err)
	})

	t.Run("unaddressable target rejected", func(t *testing.T) {
		c := customer{} // not a pointer; fields are not settable
		err := acc.Write(c, MustParse("Name"), "x")
		require.Error(t, err)
	})
}
