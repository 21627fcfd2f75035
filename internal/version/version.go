package version

// Current is the released lapcoach version, without a leading "v".
const Current = "0.1.0"
