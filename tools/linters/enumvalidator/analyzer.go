// Package enumvalidator reports string literals written into enum-typed fields.
// Request types, turn statuses and message roles travel over the wire; a typo in
// a literal compiles fine and only shows up as a rejected turn.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that enum fields only use defined constants, not string literals",
	Run:  run,
}

var enumTypes = map[string]bool{
	"RequestType": true,
	"TurnStatus":  true,
	"Role":        true,
	"UpdateKind":  true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.AssignStmt:
				for i, lhs := range node.Lhs {
					if i >= len(node.Rhs) {
						continue
					}
					sel, ok := lhs.(*ast.SelectorExpr)
					if ok && isEnum(pass, sel) && isStringLiteral(node.Rhs[i]) {
						pass.Reportf(node.Pos(),
							"enum field %s assigned string literal; use defined constant instead",
							sel.Sel.Name)
					}
				}
			case *ast.CompositeLit:
				if !isStruct(pass, node) {
					return true
				}
				for _, elt := range node.Elts {
					kv, ok := elt.(*ast.KeyValueExpr)
					if !ok {
						continue
					}
					key, ok := kv.Key.(*ast.Ident)
					if ok && isEnum(pass, key) && isStringLiteral(kv.Value) {
						pass.Reportf(kv.Pos(),
							"enum field %s set to string literal; use defined constant instead",
							key.Name)
					}
				}
			}
			return true
		})
	}
	return nil, nil
}

func isEnum(pass *analysis.Pass, expr ast.Expr) bool {
	if t := pass.TypesInfo.TypeOf(expr); t != nil {
		if named, ok := t.(*types.Named); ok {
			return enumTypes[named.Obj().Name()]
		}
	}
	return false
}

func isStruct(pass *analysis.Pass, lit *ast.CompositeLit) bool {
	t := pass.TypesInfo.TypeOf(lit)
	if t == nil {
		return false
	}
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	_, ok := t.Underlying().(*types.Struct)
	return ok
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}
