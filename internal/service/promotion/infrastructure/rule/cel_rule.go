package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"promotoken/internal/service/promotion/domain"
)

// DefaultSuccessExpr 按 JSON 真值判断 success 字段：缺失、null、false、0 和空串为假，其余为真。
// 不同类型之间的 != 恒为真，数字 0 和 0.0 相等。
const DefaultSuccessExpr = `has(result.success) && result.success != null && result.success != false && result.success != 0 && result.success != ""`

// CELSuccessRule 是 domain.SuccessRule 的一个实现，用 CEL 表达式判断兑换结果是否成功。
// 表达式在启动时编译一次，之后每次兑换只做求值。
type CELSuccessRule struct {
	expr    string
	program cel.Program
}

// NewCELSuccessRule 编译表达式。表达式中可以引用变量 result（map(string, dyn)），且必须返回 bool。
func NewCELSuccessRule(expr string) (*CELSuccessRule, error) {
	if expr == "" {
		expr = DefaultSuccessExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("result", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile success rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("success rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build success rule program: %w", err)
	}
	return &CELSuccessRule{expr: expr, program: prg}, nil
}

// Succeeded 实现了 domain.SuccessRule 接口。
func (r *CELSuccessRule) Succeeded(result map[string]any) (bool, error) {
	if result == nil {
		result = map[string]any{}
	}
	out, _, err := r.program.Eval(map[string]any{"result": result})
	if err != nil {
		return false, fmt.Errorf("evaluate success rule: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("success rule returned %T", out.Value())
	}
	return ok, nil
}

func (r *CELSuccessRule) Expr() string {
	return r.expr
}

var _ domain.SuccessRule = (*CELSuccessRule)(nil)
