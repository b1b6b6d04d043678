// Package repository implements the inventory stores on PostgreSQL.
package repository

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// where accumulates AND-ed conditions with positional arguments. Each "?"
// in a condition is replaced by the next $n placeholder.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page renders LIMIT/OFFSET and appends their arguments.
func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(w.args)))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(w.args)))
	}
	return b.String()
}

// validID guards uuid columns against malformed path parameters.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
