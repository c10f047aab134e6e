package reconcile

import (
	"cmp"
	"slices"

	"github.com/joestump/congress-roster/internal/roster"
)

// LeadershipChange is a chair or ranking member seat that changed hands
// between two views. From or To is empty when the seat was vacant.
type LeadershipChange struct {
	Committee string
	Role      roster.Position
	From      string
	To        string
}

type seat struct {
	committee string
	role      roster.Position
}

// Leaders returns the current holder of every chair and ranking member seat,
// keyed by committee code then role.
func (v *View) Leaders() map[string]map[roster.Position]string {
	out := map[string]map[roster.Position]string{}
	for _, ms := range v.Memberships {
		if !ms.IsCurrent || ms.CongressNumber != v.Congress {
			continue
		}
		if ms.Position != roster.Chair && ms.Position != roster.RankingMember {
			continue
		}
		if out[ms.CommitteeCode] == nil {
			out[ms.CommitteeCode] = map[roster.Position]string{}
		}
		out[ms.CommitteeCode][ms.Position] = ms.BioguideID
	}
	return out
}

// LeadershipDiff lists leadership seats held by someone different in next
// than in prev. A nil prev, or views of different congresses, yield nothing:
// a new congress reseats everyone and is reported as a session transition.
func LeadershipDiff(prev, next *View) []LeadershipChange {
	if prev == nil || next == nil || prev.Congress != next.Congress {
		return nil
	}
	before, after := flatten(prev.Leaders()), flatten(next.Leaders())

	var out []LeadershipChange
	for s, to := range after {
		if from := before[s]; from != to {
			out = append(out, LeadershipChange{Committee: s.committee, Role: s.role, From: from, To: to})
		}
	}
	for s, from := range before {
		if _, ok := after[s]; !ok {
			out = append(out, LeadershipChange{Committee: s.committee, Role: s.role, From: from})
		}
	}
	slices.SortFunc(out, func(a, b LeadershipChange) int {
		return cmp.Or(cmp.Compare(a.Committee, b.Committee), cmp.Compare(a.Role, b.Role))
	})
	return out
}

func flatten(m map[string]map[roster.Position]string) map[seat]string {
	out := map[seat]string{}
	for code, roles := range m {
		for role, id := range roles {
			out[seat{code, role}] = id
		}
	}
	return out
}
