package replay

import (
	"fmt"
	"reflect"

	"github.com/klingon-exchange/jigkernel/internal/commit"
)

// CompareMetadata implements spec.md §4.10 step 8: "any difference — key
// count, key value, state hash, script, or satoshis floor — aborts with an
// execution error", with a diagnostic reason naming the offending field and
// index (spec.md §8 edge case 5: "diagnostic logs naming the offending
// output index"). got is what the local replay independently rebuilt; want
// is what the commit under verification actually published.
func CompareMetadata(got, want *commit.Metadata) (bool, string, error) {
	if got.App != want.App {
		return false, fmt.Sprintf("app: got %q, want %q", got.App, want.App), nil
	}
	if got.Version != want.Version {
		return false, fmt.Sprintf("version: got %d, want %d", got.Version, want.Version), nil
	}
	if got.Vrun != want.Vrun {
		return false, fmt.Sprintf("vrun: got %d, want %d", got.Vrun, want.Vrun), nil
	}
	if got.In != want.In {
		return false, fmt.Sprintf("in: got %d, want %d", got.In, want.In), nil
	}
	if ok, reason := compareStrings("ref", got.Ref, want.Ref); !ok {
		return false, reason, nil
	}
	if ok, reason := compareStrings("out", got.Out, want.Out); !ok {
		return false, reason, nil
	}
	if ok, reason := compareStrings("del", got.Del, want.Del); !ok {
		return false, reason, nil
	}
	if ok, reason := compareStrings("cre", got.Cre, want.Cre); !ok {
		return false, reason, nil
	}
	if len(got.Exec) != len(want.Exec) {
		return false, fmt.Sprintf("exec: got %d entr(y/ies), want %d", len(got.Exec), len(want.Exec)), nil
	}
	for i := range got.Exec {
		g, w := got.Exec[i], want.Exec[i]
		if g.Op != w.Op {
			return false, fmt.Sprintf("exec[%d].op: got %s, want %s", i, g.Op, w.Op), nil
		}
		if len(g.Data) != len(w.Data) {
			return false, fmt.Sprintf("exec[%d].data: got %d element(s), want %d", i, len(g.Data), len(w.Data)), nil
		}
		for j := range g.Data {
			if !reflect.DeepEqual(g.Data[j], w.Data[j]) {
				return false, fmt.Sprintf("exec[%d].data[%d]: mismatch", i, j), nil
			}
		}
	}
	return true, "", nil
}

func compareStrings(field string, got, want []string) (bool, string) {
	if len(got) != len(want) {
		return false, fmt.Sprintf("%s: got %d entr(y/ies), want %d", field, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return false, fmt.Sprintf("%s[%d]: got %q, want %q", field, i, got[i], want[i])
		}
	}
	return true, ""
}
