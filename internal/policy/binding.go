package policy

// Binding 声明工具参与的策略以及工具参数到策略输入的映射。
type Binding struct {
	PolicyName string
	// Mappings 的键是工具参数名，值是策略输入名。
	Mappings map[string]string
}

// Inputs 按映射把工具参数投影为策略输入，缺失的参数会被忽略。
func (b Binding) Inputs(params map[string]any) map[string]any {
	inputs := make(map[string]any, len(b.Mappings))
	for toolField, policyField := range b.Mappings {
		if value, ok := params[toolField]; ok {
			inputs[policyField] = value
		}
	}
	return inputs
}
