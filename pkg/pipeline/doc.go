// Package pipeline runs the chart lifecycle in order:
//
//	download -> init -> repo-sync -> build -> test -> deploy
//
// Running a stage runs every stage before it. Progress is reported to
// subscribers as events, which drive the terminal UI.
package pipeline
