package commit

import "github.com/klingon-exchange/jigkernel/internal/action"

// BuildExecList is publish step 8: rewrite every top-level action recorded
// against this transaction into its {op, data} wire shape, with refs
// resolved to master-list indices (step 5 must run first).
func (c *Commit) BuildExecList() error {
	acts := c.Rec.Actions()
	list := make([]action.Exec, 0, len(acts))
	for _, a := range acts {
		e, err := action.ToExec(a, c.indexOf)
		if err != nil {
			return err
		}
		list = append(list, e)
	}
	c.ExecList = list
	return nil
}
