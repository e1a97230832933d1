// Package providers contains platform implementations of core.Platform.
//
// The bilibili package speaks the passport QR login and cookie refresh
// protocol; devkit carries an httptest fake of those endpoints and
// conformance checks for stores, lockers and platforms.
package providers
