// Package keypad plans join layouts for multi-button dimmers and
// keypads and keeps their button LEDs synchronised with external
// entity state.
//
// Planning is pure: a sequential layout assigns each button three
// consecutive digital joins (press, double press, hold) from a base
// join, while manual mode accepts explicit per-button joins. The
// BindingManager watches bound entities through the sync engine's
// state cache and pushes LED booleans onto the buttons' own joins.
package keypad
