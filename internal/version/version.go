package version

// Current is the leadsync release version (no "v" prefix).
const Current = "0.3.0"
