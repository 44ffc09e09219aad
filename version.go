package homerelay

// Version is the current release of the homerelay runtime.
const Version = "0.3.0"
