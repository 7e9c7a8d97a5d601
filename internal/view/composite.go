package view

// TaskWithDataEntries is the read-time composite of a task and the data entry
// projections referenced by its correlations. It is never persisted.
// Correlations that cannot be resolved are omitted, so the data entry count is
// at most the correlation count.
type TaskWithDataEntries struct {
	Task        Task        `json:"task"`
	DataEntries []DataEntry `json:"dataEntries"`
}

// ApplicationWithTaskCount is the per-application task count projection.
type ApplicationWithTaskCount struct {
	ApplicationName string `json:"applicationName"`
	TaskCount       int    `json:"taskCount"`
}
