package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/terminal_sync/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SchoolScopePlugin scopes queries, updates and deletes to the school of the
// authenticated terminal when the model has a school_id column.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include school_id manually.
// - Internal workers bypass it by not carrying a school id (or via ContextKeySkipSchoolScope).
type SchoolScopePlugin struct{}

func NewSchoolScopePlugin() *SchoolScopePlugin { return &SchoolScopePlugin{} }

func (p *SchoolScopePlugin) Name() string { return "school_scope" }

func (p *SchoolScopePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("school_scope:query", schoolScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("school_scope:row", schoolScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("school_scope:update", schoolScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("school_scope:delete", schoolScopeCallback); err != nil {
		return err
	}
	return nil
}

func schoolScopeCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if skip, ok := appctx.GetBool(ctx, appctx.ContextKeySkipSchoolScope); ok && skip {
		return
	}
	schoolID, _ := appctx.GetString(ctx, appctx.ContextKeySchoolId)
	if schoolID == "" {
		return
	}
	if db.Statement.Schema == nil {
		return
	}
	if _, ok := db.Statement.Schema.FieldsByDBName["school_id"]; !ok {
		return
	}
	if whereHasSchoolID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "school_id"},
				Value:  schoolID,
			},
		},
	})
}

// SchoolIdFromContext is exported for stores that build Raw SQL.
func SchoolIdFromContext(ctx context.Context) string {
	v, _ := appctx.GetString(ctx, appctx.ContextKeySchoolId)
	return v
}

func whereHasSchoolID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasSchoolID(e) {
			return true
		}
	}
	return false
}

func exprHasSchoolID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsSchoolID(v.Column)
	case clause.Neq:
		return colIsSchoolID(v.Column)
	case clause.IN:
		return colIsSchoolID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasSchoolID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasSchoolID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), "school_id")
	default:
		return false
	}
}

func colIsSchoolID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "school_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "school_id")
	default:
		return false
	}
}
