package domain

// KeyPrefix namespaces all persisted keys.
const KeyPrefix = "promptrelay:"
