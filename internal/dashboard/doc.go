// Package dashboard serves the live trend page.
//
// The page is a single html/template embedded into the binary. It lists
// every configured signal key with a checkbox, polls /data for the checked
// keys every two seconds and plots the returned [timestamp, value] pairs
// with Chart.js. The device status summary is shown above the chart.
package dashboard
