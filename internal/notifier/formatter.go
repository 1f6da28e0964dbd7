package notifier

import (
	"fmt"
	"sort"
	"strings"

	"OptionSentinel/internal/model"
	"OptionSentinel/internal/recorder"
	"OptionSentinel/internal/risk"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// money renders an amount with thousands separators and two decimals.
func money(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64())
}

// signedMoney is money with an explicit sign for positive amounts.
func signedMoney(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + money(d)
	}
	return money(d)
}

func amount(f float64) string {
	return humanize.FormatFloat("#,###.##", f)
}

// FormatBookReport formats a revaluation run into a Telegram message.
func FormatBookReport(run *model.Run, breaches []risk.Breach) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>OptionSentinel 估值日报</b> | %s\n\n", run.PricingDate.Format("2006-01-02")))

	vals := make([]model.Valuation, len(run.Valuations))
	copy(vals, run.Valuations)
	sort.Slice(vals, func(i, j int) bool { return vals[i].PositionID < vals[j].PositionID })

	b.WriteString("📈 <b>持仓估值:</b>\n")
	for _, v := range vals {
		line := fmt.Sprintf("  %s %s %s: %.4f → %s",
			v.PositionID, v.Underlying, v.Type, v.UnitValue, money(v.MTM))
		if v.HasPrior {
			line += fmt.Sprintf(" (%s)", signedMoney(v.PnL))
		}
		b.WriteString(line + "\n")
	}
	if len(vals) == 0 {
		b.WriteString("  (无)\n")
	}
	b.WriteString("  ─────────────────\n")
	b.WriteString(fmt.Sprintf("  组合市值: %s\n", money(run.TotalMTM)))
	b.WriteString(fmt.Sprintf("  日内盈亏: %s\n\n", signedMoney(run.TotalPnL)))

	if exps := risk.Aggregate(run); len(exps) > 0 {
		b.WriteString("⚖️ <b>风险敞口:</b>\n")
		for _, e := range exps {
			b.WriteString(fmt.Sprintf("  %s: Delta %s | Vega %s\n", e.Underlying, amount(e.Delta), amount(e.Vega/100)))
		}
		b.WriteString("\n")
	}

	if len(breaches) > 0 {
		b.WriteString(FormatBreaches(breaches))
		b.WriteString("\n")
	}

	if len(run.Failures) > 0 {
		ids := make([]string, 0, len(run.Failures))
		for id := range run.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString(fmt.Sprintf("❌ <b>估值失败 (%d):</b>\n", len(ids)))
		for _, id := range ids {
			b.WriteString(fmt.Sprintf("  %s: %s\n", id, run.Failures[id]))
		}
		b.WriteString("\n")
	}
	if len(run.Skipped) > 0 {
		b.WriteString(fmt.Sprintf("已到期跳过: %s\n", strings.Join(run.Skipped, ", ")))
	}

	b.WriteString(fmt.Sprintf("耗时 %dms | %s", run.Duration.Milliseconds(), shortID(run.ID)))
	return b.String()
}

// FormatBreaches lists limit observations, most severe first.
func FormatBreaches(breaches []risk.Breach) string {
	var b strings.Builder
	b.WriteString("🚨 <b>限额预警:</b>\n")
	for _, br := range breaches {
		icon := "🟡"
		switch br.Level {
		case "BREACH":
			icon = "🔴"
		case "WARNING":
			icon = "🟠"
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", icon, br))
	}
	return b.String()
}

// FormatPositionDetail shows one valuation, including the Turnbull-Wakeman
// breakdown for Asian lines.
func FormatPositionDetail(pos *model.Position, v *model.Valuation) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>%s</b> | %s %s %s\n\n", pos.ID, pos.Underlying, pos.Style, pos.Type))
	b.WriteString(fmt.Sprintf("行权价: %s\n", amount(pos.Strike)))
	b.WriteString(fmt.Sprintf("数量: %s × %s\n", amount(pos.Quantity), amount(pos.LotSize)))
	b.WriteString(fmt.Sprintf("波动率: %.2f%%\n", pos.Volatility*100))
	if pos.Style == model.StyleAsian {
		b.WriteString(fmt.Sprintf("均价区间: %s ~ %s\n",
			pos.AverageStart.Format("2006-01-02"), pos.AverageEnd.Format("2006-01-02")))
	} else {
		b.WriteString(fmt.Sprintf("到期日: %s\n", pos.Expiry.Format("2006-01-02")))
	}

	b.WriteString(fmt.Sprintf("\n远期价格: %s\n", amount(v.Market.Forward)))
	if pos.Style == model.StyleAsian {
		b.WriteString(fmt.Sprintf("已定价均价: %s (%d 个定价日)\n", amount(v.Market.Realized), v.Market.Fixings))
		b.WriteString(fmt.Sprintf("阶段: %s\n", v.Regime))
		b.WriteString(fmt.Sprintf("Swap: %.4f | 有效波动率: %.2f%%\n", v.Swap, v.EffectiveVol*100))
		b.WriteString(fmt.Sprintf("调整行权价: %.4f | 乘数: %.4f\n", v.AdjStrike, v.Multiplier))
	}

	g := v.Greeks
	b.WriteString(fmt.Sprintf("\n单位价值: %.4f\n", v.UnitValue))
	b.WriteString(fmt.Sprintf("Delta %.4f | Gamma %.6f\n", g.Delta, g.Gamma))
	b.WriteString(fmt.Sprintf("Theta %.4f | Vega %.4f | Rho %.4f\n", g.Theta, g.Vega, g.Rho))
	b.WriteString(fmt.Sprintf("\n市值: %s\n", money(v.MTM)))
	if v.HasPrior {
		b.WriteString(fmt.Sprintf("日内盈亏: %s\n", signedMoney(v.PnL)))
	}
	return b.String()
}

// FormatExpiryNotice announces a position whose last fixing has passed.
func FormatExpiryNotice(pos *model.Position, v *model.Valuation) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏰ <b>到期通知</b> | %s\n\n", pos.ID))
	b.WriteString(fmt.Sprintf("%s %s %s @ %s\n", pos.Underlying, pos.Style, pos.Type, amount(pos.Strike)))
	b.WriteString(fmt.Sprintf("最后定价日: %s\n", pos.LastFixing().Format("2006-01-02")))
	settle := v.Market.Forward
	if pos.Style == model.StyleAsian {
		settle = v.Market.Realized
	}
	b.WriteString(fmt.Sprintf("结算价: %s\n", amount(settle)))
	b.WriteString(fmt.Sprintf("内在价值: %.4f\n", v.UnitValue))
	b.WriteString(fmt.Sprintf("结算金额: %s\n", money(v.MTM)))
	if v.UnitValue > 0 {
		b.WriteString("\n实值到期 ✅")
	} else {
		b.WriteString("\n虚值到期，无支付")
	}
	return b.String()
}

// FormatWeeklySummary formats recent revaluation history, newest first.
func FormatWeeklySummary(runs []recorder.RunSummary) string {
	var b strings.Builder
	b.WriteString("📅 <b>周度汇总</b>\n\n")
	if len(runs) == 0 {
		b.WriteString("暂无估值记录")
		return b.String()
	}

	pnl := decimal.Zero
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("  %s: %s (%s)\n",
			r.PricingDate.Format("2006-01-02"), money(r.TotalMTM), signedMoney(r.TotalPnL)))
		pnl = pnl.Add(r.TotalPnL)
	}
	b.WriteString("  ─────────────────\n")
	b.WriteString(fmt.Sprintf("  累计盈亏: %s (%d 次估值)\n", signedMoney(pnl), len(runs)))
	b.WriteString(fmt.Sprintf("  最近估值: %s", humanize.Time(runs[0].Timestamp)))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
