package discovery

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:1", []string{"a:1"}},
        {" a:1 , b:2 ", []string{"a:1", "b:2"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
        {"# seeds\na:1\n\nb:2,c:3\n", []string{"a:1", "b:2", "c:3"}},
    }
    for _, c := range cases {
        assert.Equal(t, c.want, SplitList(c.in), c.in)
    }
}

func TestStatic_CopiesAndNormalizes(t *testing.T) {
    d := Static(" b:2 ", "", "a:1", "b:2")
    got := d.Seeds()
    assert.Equal(t, []string{"a:1", "b:2"}, got)
    got[0] = "x"
    assert.Equal(t, "a:1", d.Seeds()[0])
}

func TestFunc(t *testing.T) {
    d := Func(func() []string { return []string{"z:1"} })
    assert.Equal(t, []string{"z:1"}, d.Seeds())
}

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_retainer._udp.example.com")
    assert.Equal(t, []string{"retainer", "udp", "example.com"}, []string{s, p, n})
    s, p, n = parseSRVName("bad.srv")
    assert.Empty(t, s + p + n)
}

func TestDNS_PassthroughHostPort(t *testing.T) {
    d := DNS(DNSOptions{Names: []string{"1.2.3.4:7946"}, Refresh: 5 * time.Millisecond})
    assert.Equal(t, []string{"1.2.3.4:7946"}, d.Seeds())
}

func TestDNS_LookupHostLocalhost(t *testing.T) {
    d := DNS(DNSOptions{Names: []string{"localhost"}, Port: 12345, Refresh: 5 * time.Millisecond})
    got := d.Seeds()
    require.NotEmpty(t, got)
    for _, s := range got {
        assert.True(t, strings.HasSuffix(s, ":12345"), s)
    }
}

func TestFile_EnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    require.NoError(t, os.WriteFile(f, []byte("a:1\n"), 0o644))
    t.Setenv("TEST_RETAINER_SEEDS", "y:8,x:9")

    d := File(FileOptions{Path: f, Env: "TEST_RETAINER_SEEDS"})
    assert.Equal(t, []string{"x:9", "y:8"}, d.Seeds())
}

func TestFile_ReadAndRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    require.NoError(t, os.WriteFile(f, []byte("a:1\nb:2\n"), 0o644))

    d := File(FileOptions{Path: f, Refresh: 10 * time.Millisecond})
    assert.Equal(t, []string{"a:1", "b:2"}, d.Seeds())

    require.NoError(t, os.WriteFile(f, []byte("b:2\nc:3\n"), 0o644))
    time.Sleep(15 * time.Millisecond)
    assert.Equal(t, []string{"b:2", "c:3"}, d.Seeds())
}

func TestFile_GlobUniqueSorted(t *testing.T) {
    dir := t.TempDir()
    require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a:1\nb:2\n"), 0o644))
    require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b:2\nc:3\n"), 0o644))

    d := File(FileOptions{Path: filepath.Join(dir, "*.txt")})
    assert.Equal(t, []string{"a:1", "b:2", "c:3"}, d.Seeds())
}

func TestFile_Missing(t *testing.T) {
    d := File(FileOptions{Path: filepath.Join(t.TempDir(), "nope.txt")})
    assert.Empty(t, d.Seeds())
}
