package mcp

import "github.com/mark3labs/mcp-go/mcp"

var manualSaveToolDef = mcp.NewTool(
	"manual_save",
	mcp.WithDescription("Collect the live equipment and container state and write it now. "+
		"An empty snapshot is refused while the startup grace window protects existing data."),
)

var manualLoadToolDef = mcp.NewTool(
	"manual_load",
	mcp.WithDescription("Restore equipment and containers from disk now, falling back to backups "+
		"when a primary copy is corrupt. Returns per-slot outcomes and the resulting live state."),
)

var clearAllDataToolDef = mcp.NewTool(
	"clear_all_data",
	mcp.WithDescription("Delete every saved snapshot, backup, legacy preference and save history row. Cannot be undone."),
	mcp.WithBoolean("confirm",
		mcp.Required(),
		mcp.Description("Must be true"),
	),
	mcp.WithDestructiveHintAnnotation(true),
)

var getStatsToolDef = mcp.NewTool(
	"get_stats",
	mcp.WithDescription("Summarize what is on disk: occupied slots, item and container counts, "+
		"last save, backup presence and engine state."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var historyToolDef = mcp.NewTool(
	"history",
	mcp.WithDescription("List recorded writes, newest first."),
	mcp.WithString("domain",
		mcp.Description("Only list this domain"),
		mcp.Enum("equipment", "containers"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum rows (default 20, max 200)"),
		mcp.Min(0),
	),
	mcp.WithReadOnlyHintAnnotation(true),
)

var migrateToolDef = mcp.NewTool(
	"migrate",
	mcp.WithDescription("Rewrite legacy equipment and container keys to the current layout "+
		"and import equipment from the legacy preference store."),
)

var reportToolDef = mcp.NewTool(
	"report",
	mcp.WithDescription("Build a markdown report of stats, slots, containers, backups and recent saves."),
	mcp.WithBoolean("html",
		mcp.Description("Render the report to an HTML page"),
	),
	mcp.WithNumber("history_limit",
		mcp.Description("Recent saves to include (default 10)"),
		mcp.Min(0),
	),
	mcp.WithString("path",
		mcp.Description("Also write the report here. Must be directly in ~/.vertias/reports or an allowed_paths entry, "+
			"with a .md or .html extension matching the format."),
	),
)
