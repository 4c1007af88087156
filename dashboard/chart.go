package dashboard

const (
	chartHeight   = 200
	chartBarWidth = 36
	chartBarGap   = 14
	chartPadding  = 30
)

func barX(index int) int {
	return chartPadding + index*(chartBarWidth+chartBarGap)
}

func barHeight(value int) int {
	if value < 0 {
		return 0
	}
	if value > seriesMaxValue {
		value = seriesMaxValue
	}
	return value * chartHeight / seriesMaxValue
}

func sub(a, b int) int {
	return a - b
}
