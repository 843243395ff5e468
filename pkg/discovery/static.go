package discovery

type static struct{ seeds []string }

func (s *static) Seeds() []string { return append([]string(nil), s.seeds...) }

// Static returns a Discovery that always yields the given seeds.
func Static(seeds ...string) Discovery { return &static{seeds: Normalize(seeds)} }
