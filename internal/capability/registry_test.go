package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_RegisterAndFind(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", []string{"go", "review"})
	r.Register("s2", []string{"go"})

	goUsers := r.Find("go")
	assert.ElementsMatch(t, []string{"s1", "s2"}, goUsers)
	assert.ElementsMatch(t, []string{"s1"}, r.Find("review"))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", []string{"go", "review"})
	r.Unregister("s1")

	assert.Empty(t, r.Find("go"))
	assert.Empty(t, r.Keywords("s1"))
}

func TestRegistry_Keywords(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", []string{"go", "review"})
	assert.ElementsMatch(t, []string{"go", "review"}, r.Keywords("s1"))
}
