package protocol

// ShapeTool strips fields that are only valid at or above 2025-06-18 from
// a tool descriptor before it goes out on the wire, per the negotiated
// protocol version. The input is not mutated.
func ShapeTool(version string, t Tool) Tool {
	if !VersionLess(version, LatestVersion) {
		return t
	}
	t.Title = ""
	t.OutputSchema = nil
	return t
}

// ShapeTools applies ShapeTool to a whole descriptor list.
func ShapeTools(version string, tools []Tool) []Tool {
	shaped := make([]Tool, len(tools))
	for i, t := range tools {
		shaped[i] = ShapeTool(version, t)
	}
	return shaped
}

// ShapeCallToolResult strips structuredContent below 2025-06-18. The input
// is not mutated. Tools that declare an OutputSchema are required to also
// return unstructured Content, so this never yields an empty response.
func ShapeCallToolResult(version string, res *CallToolResult) *CallToolResult {
	if res == nil || !VersionLess(version, LatestVersion) {
		return res
	}
	shaped := *res
	shaped.StructuredContent = nil
	return &shaped
}
