package parse

type nodeSet map[string]struct{}

func newSet(types ...string) nodeSet {
	s := make(nodeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s nodeSet) has(t string) bool {
	_, ok := s[t]
	return ok
}

// NodeTables lists the syntax node types a grammar cares about.
type NodeTables struct {
	Functions  nodeSet // function and method definitions
	Decisions  nodeSet // cyclomatic decision points
	Nesting    nodeSet // structures that deepen nesting
	Types      nodeSet // type declarations
	Containers nodeSet // nodes whose name qualifies nested methods (impl blocks)
	Imports    nodeSet
	Calls      nodeSet
	Packages   nodeSet
	TypeRefs   nodeSet
	Builtins   nodeSet
}

var goTables = &NodeTables{
	Functions: newSet("function_declaration", "method_declaration", "func_literal"),
	Decisions: newSet(
		"if_statement",
		"for_statement",
		"expression_case",    // case in switch
		"type_case",          // case in type switch
		"communication_case", // case in select
		"binary_expression",  // && and ||
	),
	Nesting: newSet(
		"if_statement",
		"for_statement",
		"select_statement",
		"type_switch_statement",
		"expression_switch_statement",
		"func_literal",
	),
	Types:    newSet("type_spec", "type_alias"),
	Imports:  newSet("import_spec"),
	Calls:    newSet("call_expression"),
	Packages: newSet("package_clause"),
	TypeRefs: newSet("type_identifier", "qualified_type"),
	Builtins: newSet(
		"append", "cap", "clear", "close", "complex", "copy", "delete", "imag",
		"len", "make", "max", "min", "new", "panic", "print", "println", "real",
		"recover", "any", "bool", "byte", "comparable", "complex64",
		"complex128", "error", "float32", "float64", "int", "int8", "int16",
		"int32", "int64", "rune", "string", "uint", "uint8", "uint16", "uint32",
		"uint64", "uintptr",
	),
}

var jsTables = &NodeTables{
	Functions: newSet("function_declaration", "function_expression", "function", "arrow_function", "method_definition", "generator_function_declaration"),
	Decisions: newSet(
		"if_statement",
		"for_statement",
		"for_in_statement",
		"while_statement",
		"do_statement",
		"switch_case",
		"catch_clause",
		"ternary_expression",
		"binary_expression", // && and ||
	),
	Nesting: newSet(
		"if_statement",
		"for_statement",
		"for_in_statement",
		"while_statement",
		"do_statement",
		"switch_statement",
		"try_statement",
		"arrow_function",
		"function_expression",
	),
	Types:    newSet("class_declaration", "interface_declaration", "type_alias_declaration", "enum_declaration", "abstract_class_declaration"),
	Imports:  newSet("import_statement", "export_statement", "call_expression"),
	Calls:    newSet("call_expression"),
	TypeRefs: newSet("type_identifier"),
	Builtins: newSet(
		"require", "console", "Object", "Array", "JSON", "Math", "Promise",
		"String", "Number", "Boolean", "Date", "Error", "Map", "Set", "Symbol",
		"parseInt", "parseFloat", "setTimeout", "clearTimeout", "setInterval",
		"clearInterval", "isNaN", "RegExp", "Reflect", "BigInt", "window",
		"document", "process", "Buffer", "any", "unknown", "never", "void",
		"Record", "Partial", "Readonly", "Pick", "Omit",
	),
}

var pythonTables = &NodeTables{
	Functions: newSet("function_definition", "lambda"),
	Decisions: newSet(
		"if_statement",
		"elif_clause",
		"for_statement",
		"while_statement",
		"except_clause",
		"with_statement",
		"boolean_operator",       // and, or
		"conditional_expression", // ternary
		"for_in_clause",          // comprehension loops
		"if_clause",              // comprehension filters
	),
	Nesting: newSet(
		"if_statement",
		"for_statement",
		"while_statement",
		"try_statement",
		"with_statement",
		"lambda",
		"list_comprehension",
		"dictionary_comprehension",
		"set_comprehension",
		"generator_expression",
	),
	Types:   newSet("class_definition"),
	Imports: newSet("import_statement", "import_from_statement"),
	Calls:   newSet("call"),
	Builtins: newSet(
		"abs", "all", "any", "bool", "bytes", "callable", "dict", "dir",
		"enumerate", "filter", "float", "format", "frozenset", "getattr",
		"hasattr", "hash", "id", "input", "int", "isinstance", "issubclass",
		"iter", "len", "list", "map", "max", "min", "next", "object", "open",
		"print", "range", "repr", "reversed", "round", "set", "setattr",
		"sorted", "str", "sum", "super", "tuple", "type", "vars", "zip",
		"Exception", "ValueError", "TypeError", "KeyError", "RuntimeError",
		"NotImplementedError",
	),
}

var rustTables = &NodeTables{
	Functions: newSet("function_item", "closure_expression"),
	Decisions: newSet(
		"if_expression",
		"match_arm",
		"while_expression",
		"loop_expression",
		"for_expression",
		"binary_expression", // && and ||
	),
	Nesting: newSet(
		"if_expression",
		"match_expression",
		"while_expression",
		"loop_expression",
		"for_expression",
		"closure_expression",
	),
	Types:      newSet("struct_item", "enum_item", "trait_item", "type_item", "union_item"),
	Containers: newSet("impl_item"),
	Imports:    newSet("use_declaration", "mod_item"),
	Calls:      newSet("call_expression"),
	TypeRefs:   newSet("type_identifier"),
	Builtins: newSet(
		"Some", "None", "Ok", "Err", "Box", "Vec", "String", "Option",
		"Result", "Self", "Rc", "Arc", "HashMap", "HashSet", "Default",
	),
}

var javaTables = &NodeTables{
	Functions: newSet("method_declaration", "constructor_declaration", "lambda_expression"),
	Decisions: newSet(
		"if_statement",
		"for_statement",
		"enhanced_for_statement",
		"while_statement",
		"do_statement",
		"switch_block_statement_group",
		"switch_rule",
		"catch_clause",
		"ternary_expression",
		"binary_expression", // && and ||
	),
	Nesting: newSet(
		"if_statement",
		"for_statement",
		"enhanced_for_statement",
		"while_statement",
		"do_statement",
		"switch_expression",
		"try_statement",
		"lambda_expression",
	),
	Types:    newSet("class_declaration", "interface_declaration", "enum_declaration", "record_declaration", "annotation_type_declaration"),
	Imports:  newSet("import_declaration"),
	Calls:    newSet("method_invocation"),
	Packages: newSet("package_declaration"),
	TypeRefs: newSet("type_identifier"),
	Builtins: newSet(
		"String", "Object", "Integer", "Long", "Double", "Boolean", "System",
		"Math", "List", "Map", "Set", "Optional", "Exception",
		"RuntimeException", "Override", "Arrays", "Collections", "Objects",
	),
}

var kotlinTables = &NodeTables{
	Functions: newSet("function_declaration", "lambda_literal", "anonymous_function"),
	Decisions: newSet(
		"if_expression",
		"when_entry",
		"for_statement",
		"while_statement",
		"do_while_statement",
		"catch_block",
		"conjunction_expression", // &&
		"disjunction_expression", // ||
		"elvis_expression",       // ?:
	),
	Nesting: newSet(
		"if_expression",
		"when_expression",
		"for_statement",
		"while_statement",
		"do_while_statement",
		"try_expression",
		"lambda_literal",
	),
	Types:    newSet("class_declaration", "object_declaration"),
	Imports:  newSet("import_header"),
	Calls:    newSet("call_expression"),
	Packages: newSet("package_header"),
	TypeRefs: newSet("user_type"),
	Builtins: newSet(
		"println", "print", "listOf", "mutableListOf", "mapOf", "mutableMapOf",
		"setOf", "mutableSetOf", "require", "check", "error", "lazy", "String",
		"Int", "Long", "Boolean", "Double", "Unit", "Any", "List", "Map", "Set",
		"TODO", "apply", "also", "let", "run", "with",
	),
}

// tablesFor returns the node tables for lang, or nil when unsupported.
func tablesFor(lang Language) *NodeTables {
	switch lang {
	case LangGo:
		return goTables
	case LangJavaScript, LangTypeScript, LangTSX:
		return jsTables
	case LangPython:
		return pythonTables
	case LangRust:
		return rustTables
	case LangJava:
		return javaTables
	case LangKotlin:
		return kotlinTables
	default:
		return nil
	}
}

// receiverNames never point outside the current file.
var receiverNames = newSet("self", "this", "super", "Self", "cls")
