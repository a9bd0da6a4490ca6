package models

// FlagChange flips a flag from From to To. It is compare-and-set: when the
// record no longer holds From the change is skipped.
type FlagChange struct {
	From bool
	To   bool
}

// ContentChange replaces editable text with compare-and-set semantics.
type ContentChange struct {
	From string
	To   string
}

// Patch is an inspectable change to one record. Counter deltas are relative
// and flags/content are compare-and-set, so applying a patch never erases a
// write that landed in between computing and applying it.
//
// A Coupled patch is all or nothing: when any of its flags no longer holds
// From, none of its counters move either. Toggles use it so a like that is
// already reflected in server state is not counted twice.
type Patch struct {
	Deltas  map[Counter]int64
	Flags   map[Flag]FlagChange
	Content *ContentChange
	Coupled bool
}

func (p Patch) IsZero() bool {
	return len(p.Deltas) == 0 && len(p.Flags) == 0 && p.Content == nil
}

// Inverse returns the patch that undoes p.
func (p Patch) Inverse() Patch {
	inv := Patch{Coupled: p.Coupled}
	if len(p.Deltas) > 0 {
		inv.Deltas = make(map[Counter]int64, len(p.Deltas))
		for c, d := range p.Deltas {
			inv.Deltas[c] = -d
		}
	}
	if len(p.Flags) > 0 {
		inv.Flags = make(map[Flag]FlagChange, len(p.Flags))
		for f, ch := range p.Flags {
			inv.Flags[f] = FlagChange{From: ch.To, To: ch.From}
		}
	}
	if p.Content != nil {
		inv.Content = &ContentChange{From: p.Content.To, To: p.Content.From}
	}
	return inv
}

// Apply returns a patched copy of f; f itself is left untouched.
// Counters never go below zero.
func (p Patch) Apply(f Fields) Fields {
	out := f.Clone()
	if p.Coupled {
		for fl, ch := range p.Flags {
			if cur, ok := out.Flag(fl); ok && cur != ch.From {
				return out
			}
		}
	}
	for c, d := range p.Deltas {
		cur, ok := out.Counter(c)
		if !ok {
			continue
		}
		next := cur + d
		if next < 0 {
			next = 0
		}
		out.SetCounter(c, next)
	}
	for fl, ch := range p.Flags {
		cur, ok := out.Flag(fl)
		if !ok || cur != ch.From {
			continue
		}
		out.SetFlag(fl, ch.To)
	}
	if p.Content != nil && out.Content() == p.Content.From {
		out.SetContent(p.Content.To)
	}
	return out
}

// Merge folds other into p. Deltas add up; for flags and content the later
// change wins.
func (p Patch) Merge(other Patch) Patch {
	out := Patch{Content: p.Content, Coupled: p.Coupled || other.Coupled}
	if len(p.Deltas)+len(other.Deltas) > 0 {
		out.Deltas = make(map[Counter]int64, len(p.Deltas)+len(other.Deltas))
		for c, d := range p.Deltas {
			out.Deltas[c] += d
		}
		for c, d := range other.Deltas {
			out.Deltas[c] += d
		}
	}
	if len(p.Flags)+len(other.Flags) > 0 {
		out.Flags = make(map[Flag]FlagChange, len(p.Flags)+len(other.Flags))
		for f, ch := range p.Flags {
			out.Flags[f] = ch
		}
		for f, ch := range other.Flags {
			out.Flags[f] = ch
		}
	}
	if other.Content != nil {
		out.Content = other.Content
	}
	return out
}

// Delta is shorthand for a patch adjusting a single counter.
func Delta(c Counter, d int64) Patch {
	return Patch{Deltas: map[Counter]int64{c: d}}
}

// Toggle is shorthand for a patch flipping a single flag away from its
// current value.
func Toggle(f Flag, current bool) Patch {
	return Patch{Flags: map[Flag]FlagChange{f: {From: current, To: !current}}}
}

// CoupledToggle flips f and moves c by one in the same direction, as a single
// all or nothing change.
func CoupledToggle(f Flag, current bool, c Counter) Patch {
	d := int64(1)
	if current {
		d = -1
	}
	return Patch{
		Flags:   map[Flag]FlagChange{f: {From: current, To: !current}},
		Deltas:  map[Counter]int64{c: d},
		Coupled: true,
	}
}
